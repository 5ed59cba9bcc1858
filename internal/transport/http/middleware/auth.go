package middleware

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/domain"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const actorKey = "actor"

type Claims struct {
	UserID int64       `json:"user_id"`
	Role   domain.Role `json:"role"`
	jwt.RegisteredClaims
}

func ValidateToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID <= 0 || !claims.Role.Valid() {
		return nil, errors.New("token carries no valid user")
	}

	return claims, nil
}

// NewAuthMiddleware accepts access tokens issued elsewhere and stores the
// caller as a domain.Actor in the request locals.
func NewAuthMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized: missed header",
				"code":  "UNAUTHORIZED",
			})
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized: Invalid header format",
				"code":  "UNAUTHORIZED",
			})
		}

		claims, err := ValidateToken(parts[1], secret)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized: Invalid token",
				"code":  "UNAUTHORIZED",
			})
		}

		c.Locals(actorKey, domain.Actor{
			UserID:    claims.UserID,
			Role:      claims.Role,
			IP:        c.IP(),
			UserAgent: c.Get(fiber.HeaderUserAgent),
		})

		return c.Next()
	}
}

// NewRoleMiddleware rejects callers whose role is not listed.
func NewRoleMiddleware(roles ...domain.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := ActorFrom(c)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized: missed user",
				"code":  "UNAUTHORIZED",
			})
		}

		for _, r := range roles {
			if actor.Role == r {
				return c.Next()
			}
		}

		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Insufficient role",
			"code":  "FORBIDDEN",
		})
	}
}

func ActorFrom(c *fiber.Ctx) (domain.Actor, bool) {
	actor, ok := c.Locals(actorKey).(domain.Actor)
	if !ok || actor.UserID == 0 {
		return domain.Actor{}, false
	}

	return actor, true
}
