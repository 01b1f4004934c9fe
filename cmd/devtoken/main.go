// Command devtoken mints an access token for local testing against the
// booking API.  It signs with JWT_SECRET from the environment or .env.
//
//	devtoken --sub rider-1 --role CUSTOMER --ttl 2h
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/iliyamo/rail-seat-booking/internal/middleware"
	"github.com/iliyamo/rail-seat-booking/internal/utils"
)

func main() {
	sub := pflag.StringP("sub", "s", "", "rider or operator id (required)")
	role := pflag.StringP("role", "r", middleware.RoleCustomer, "CUSTOMER or OPERATOR")
	ttl := pflag.Duration("ttl", time.Hour, "token lifetime")
	pflag.Parse()

	_ = godotenv.Load()
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is not set")
	}
	if *sub == "" {
		pflag.Usage()
		os.Exit(2)
	}
	if *role != middleware.RoleCustomer && *role != middleware.RoleOperator {
		log.Fatalf("unknown role %q", *role)
	}

	tok, err := utils.NewAccessToken(secret, *sub, *role, *ttl)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(tok.Token)
}
