// Command admintoken prints an HS256 admin token for deployments that run
// without an OIDC issuer.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"festival-ticketing/internal/auth"
	"festival-ticketing/internal/config"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	subject := flag.String("sub", "", "token subject, usually the operator's email")
	roles := flag.String("roles", auth.RoleAdmin, "comma separated roles")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	flag.Parse()

	secret := config.Load().Auth.HMACSecret
	if secret == "" || *subject == "" {
		fmt.Fprintln(os.Stderr, "ADMIN_JWT_SECRET and -sub are required")
		os.Exit(2)
	}

	token, err := auth.IssueHMACToken(secret, *subject, strings.Split(*roles, ","), *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
