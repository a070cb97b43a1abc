// Command mint-token prints a service token for the admin API, signed with
// CAROUSEL_JWT_SECRET. Operators use it to provision callers such as the
// CRUD app.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/carousel-backend/pkg/auth"
	"github.com/angelmondragon/carousel-backend/pkg/config"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
)

func main() {
	_ = godotenv.Load()

	subject := flag.String("subject", "", "calling service or operator, e.g. crud-app")
	role := flag.String("role", string(enums.OperatorRoleOperator), "operator|admin")
	ttl := flag.Duration("ttl", 0, "token lifetime; defaults to CAROUSEL_JWT_EXPIRATION_MINUTES")
	flag.Parse()

	token, err := mint(*subject, *role, *ttl, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, "mint-token:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

func mint(subject, rawRole string, ttl time.Duration, now time.Time) (string, error) {
	cfg, err := config.LoadJWT()
	if err != nil {
		return "", err
	}
	role, err := enums.ParseOperatorRole(rawRole)
	if err != nil {
		return "", err
	}
	if ttl > 0 {
		cfg.ExpirationMinutes = max(1, int(ttl/time.Minute))
	}
	return auth.MintAccessToken(cfg, now, auth.AccessTokenPayload{Subject: subject, Role: role})
}
