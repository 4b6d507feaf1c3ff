package main

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/orchestra-mcp/brightsocket/src/identify"
	"github.com/orchestra-mcp/brightsocket/src/pool"
	"github.com/orchestra-mcp/brightsocket/src/server"
	"github.com/orchestra-mcp/brightsocket/src/types"
	"github.com/rs/zerolog"
)

// identifier is satisfied by *api.API and *identify.Coordinator.
type identifier interface {
	Identify(channel string, h identify.Handler)
	IdentifyExtending(channel string, extensions []string, h identify.Handler)
}

type credentials struct {
	Username string
	Password string
}

type userRecord struct {
	ID        int    `json:"id"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Email     string `json:"email"`
}

// demo holds the fixed account the USER channel authenticates against.
type demo struct {
	secret []byte
	ttl    time.Duration
	creds  credentials
	user   userRecord
	now    func() time.Time
	logger zerolog.Logger
}

func newDemo(secret string, logger zerolog.Logger) *demo {
	return &demo{
		secret: []byte(secret),
		ttl:    time.Hour,
		creds:  credentials{Username: "fake@fake.com", Password: "password"},
		user: userRecord{
			ID:        123,
			FirstName: "John",
			LastName:  "Doe",
			Email:     "fake@fake.com",
		},
		now:    time.Now,
		logger: logger,
	}
}

func (d *demo) register(reg identifier) {
	reg.Identify("AUDIT", d.audit)
	reg.IdentifyExtending("USER", []string{"AUDIT"}, d.userChannel)
}

// audit logs every action the connection sends from now on.
func (d *demo) audit(conn *pool.Connection, _ types.Identity, _ *server.Server) {
	conn.AddIncomingFilter(func(action string, _ any, next func()) {
		d.logger.Info().
			Str("client_id", conn.ID()).
			Str("action", action).
			Msg("incoming action")
		next()
	})
}

func (d *demo) userChannel(conn *pool.Connection, identity types.Identity, _ *server.Server) {
	if identity["username"] != d.creds.Username || identity["password"] != d.creds.Password {
		conn.RejectIdentity()
		conn.Send("err:UNAUTHORIZED", "Username or password did not match")
		return
	}

	token, err := d.issue()
	if err != nil {
		d.logger.Error().Err(err).Msg("token signing failed")
		conn.RejectIdentity()
		conn.Send("err:INTERNAL", "Could not start session")
		return
	}

	// Every later action on this connection needs a token that still verifies.
	conn.AddIncomingFilter(func(_ string, _ any, next func()) {
		if err := d.verify(token); err != nil {
			conn.Send("err:UNAUTHORIZED", "Session expired")
			return
		}
		next()
	})

	conn.Send("ok:IDENTIFIED", d.user)
	conn.Receive("FAVORITE_FOOD", func(any) { conn.Send("ok:FAVORITE_FOOD", "spaghetti") })
	conn.Receive("FAVORITE_MOVIE", func(any) { conn.Send("ok:FAVORITE_MOVIE", "Moana") })
}

func (d *demo) issue() (string, error) {
	claims := jwt.MapClaims{
		"data": d.user,
		"exp":  d.now().Add(d.ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(d.secret)
}

func (d *demo) verify(token string) error {
	_, err := jwt.Parse(token,
		func(*jwt.Token) (any, error) { return d.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(d.now),
	)
	if err != nil {
		return fmt.Errorf("verify session token: %w", err)
	}
	return nil
}
