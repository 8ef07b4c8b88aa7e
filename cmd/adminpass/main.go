// Command adminpass prints an argon2id hash for ADMIN_PASSWORD_HASH.
// The password is read from the first argument or from stdin.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	httpserver "github.com/fairyhunter13/ielts-writing-coach/internal/adapter/httpserver"
)

func main() {
	var pw string
	if len(os.Args) > 1 {
		pw = os.Args[1]
	} else {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(os.Stderr, "usage: adminpass <password>")
			os.Exit(2)
		}
		pw = strings.TrimRight(line, "\r\n")
	}
	if pw == "" {
		fmt.Fprintln(os.Stderr, "password must not be empty")
		os.Exit(2)
	}
	hash, err := httpserver.HashPassword(pw, httpserver.DefaultArgon2Params)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
