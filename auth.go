package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

// RoleHost marks the token handed to a room's creator. It is never a
// peer role; it only authorises host-side HTTP endpoints.
const RoleHost = "host"

const (
	joinRateEvery = 6 * time.Second // one attempt refilled every 6s
	joinRateBurst = 10
	secretKey     = "jwt_secret"
)

var (
	ErrInvalidTicket = errors.New("invalid ticket")
	ErrBadPassword   = errors.New("wrong room password")
	ErrRateLimited   = errors.New("too many attempts, try again later")
)

// Auth issues room tickets and checks room passwords
type Auth struct {
	secret []byte
	ttl    time.Duration
	cost   int
	log    *zap.SugaredLogger

	// Join attempt limiting (IP -> limiter)
	rateMu   sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewAuth creates an Auth handler. The signing secret survives restarts when
// a database is given.
func NewAuth(db *DB, cfg AuthConfig, log *zap.SugaredLogger) *Auth {
	if log == nil {
		log = nopLogger()
	}
	return &Auth{
		secret:   loadOrCreateSecret(db, log),
		ttl:      cfg.TicketTTL,
		cost:     cfg.BcryptCost,
		log:      log,
		limiters: make(map[string]*rate.Limiter),
	}
}

// loadOrCreateSecret loads the JWT secret from the database, or generates
// and persists a new one if none exists.
func loadOrCreateSecret(db *DB, log *zap.SugaredLogger) []byte {
	if db != nil {
		h, err := db.GetSetting(secretKey)
		if err != nil {
			log.Warnw("could not read ticket secret", "error", err)
		}
		if b, err := hex.DecodeString(h); err == nil && len(b) == 32 {
			return b
		}
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic("failed to generate JWT secret: " + err.Error())
	}
	if db != nil {
		if err := db.SetSetting(secretKey, hex.EncodeToString(secret)); err != nil {
			log.Warnw("could not persist ticket secret", "error", err)
		}
	}
	return secret
}

// IssueTicket signs a ticket admitting role into a room
func (a *Auth) IssueTicket(roomID, role string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"rid":  roomID,
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(a.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateTicket checks a ticket for roomID and returns the role it grants
func (a *Auth) ValidateTicket(tokenStr, roomID string) (string, error) {
	if tokenStr == "" {
		return "", ErrInvalidTicket
	}
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidTicket
	}
	rid, _ := claims["rid"].(string)
	role, _ := claims["role"].(string)
	if rid == "" || role == "" {
		return "", fmt.Errorf("%w: missing claims", ErrInvalidTicket)
	}
	if rid != roomID {
		return "", fmt.Errorf("%w: issued for another room", ErrInvalidTicket)
	}
	return role, nil
}

// HashPassword hashes a room password. An empty password leaves the room
// open and hashes to "".
func (a *Auth) HashPassword(password string) (string, error) {
	if password == "" {
		return "", nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a password against a room's hash
func (a *Auth) CheckPassword(hash, password string) error {
	if hash == "" {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrBadPassword
	}
	return nil
}

// Allow reports whether ip may make another join attempt
func (a *Auth) Allow(ip string) bool {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()

	l, ok := a.limiters[ip]
	if !ok {
		l = rate.NewLimiter(rate.Every(joinRateEvery), joinRateBurst)
		a.limiters[ip] = l
	}
	return l.Allow()
}

// GenerateGuestName creates a guest name like "Guest_a3f2c1"
func GenerateGuestName() string {
	b := make([]byte, 3)
	rand.Read(b)
	return "Guest_" + hex.EncodeToString(b)
}
