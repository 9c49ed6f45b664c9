/*
Copyright 2025 The Hydrosim Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package auth issues and verifies the portal's session tokens and
// resolves every request to an actor. Two credentials exist: an HS256
// bearer token whose subject is a teacher username or student code,
// and a static deploy-trigger token good only for deploys.
package auth

import (
	"context"
	"crypto/subtle"
	"time"

	jose "gopkg.in/go-jose/go-jose.v2"
	"gopkg.in/go-jose/go-jose.v2/jwt"

	"github.com/hjunqq/hydrosim-platform/pkg/portal/actor"
	portalerrors "github.com/hjunqq/hydrosim-platform/pkg/portal/errors"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/store"
)

// DefaultTokenTTL matches one teaching day.
const DefaultTokenTTL = 24 * time.Hour

// for tests
var timeNow = func() time.Time { return time.Now().UTC() }

// Config for the token manager.
type Config struct {
	Secret             string
	TokenTTL           time.Duration
	DeployTriggerToken string
}

// Claims carried by a session token.
type Claims struct {
	jwt.Claims
	UserID int64 `json:"user_id,omitempty"`
}

// Manager signs and verifies session tokens.
type Manager struct {
	cfg    Config
	signer jose.Signer
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.HS256,
		Key:       []byte(cfg.Secret),
	}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return nil, err
	}
	return &Manager{cfg: cfg, signer: signer}, nil
}

// IssueToken mints a session token for the given subject.
func (m *Manager) IssueToken(subject string, userID int64) (string, error) {
	now := timeNow()
	claims := Claims{
		Claims: jwt.Claims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(now.Add(m.cfg.TokenTTL)),
		},
		UserID: userID,
	}
	return jwt.Signed(m.signer).Claims(claims).CompactSerialize()
}

// VerifyToken checks the signature and expiry and returns the claims.
func (m *Manager) VerifyToken(token string) (*Claims, error) {
	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return nil, portalerrors.New(portalerrors.Forbidden, "Invalid authentication credentials")
	}
	var claims Claims
	if err := parsed.Claims([]byte(m.cfg.Secret), &claims); err != nil {
		return nil, portalerrors.New(portalerrors.Forbidden, "Invalid authentication credentials")
	}
	if err := claims.Validate(jwt.Expected{Time: timeNow()}); err != nil {
		return nil, portalerrors.New(portalerrors.Forbidden, "Invalid authentication credentials")
	}
	return &claims, nil
}

// Resolve maps request credentials to an actor. A bearer token wins
// over the deploy-trigger header; the trigger token is only accepted
// when one is configured.
func (m *Manager) Resolve(ctx context.Context, q *store.Queries, bearer, deployToken string) (actor.Actor, error) {
	if bearer != "" {
		claims, err := m.VerifyToken(bearer)
		if err != nil {
			return actor.Actor{}, err
		}
		if claims.Subject == "" {
			return actor.Actor{}, portalerrors.New(portalerrors.Forbidden, "Invalid authentication credentials")
		}

		teacher, err := q.GetTeacherByUsername(ctx, claims.Subject)
		if err != nil {
			return actor.Actor{}, err
		}
		if teacher != nil {
			if !teacher.IsActive {
				return actor.Actor{}, portalerrors.New(portalerrors.Forbidden, "Inactive user")
			}
			if teacher.Role == store.RoleAdmin {
				return actor.Actor{Kind: actor.Admin, ID: teacher.ID}, nil
			}
			return actor.Actor{Kind: actor.Teacher, ID: teacher.ID}, nil
		}

		student, err := q.GetStudentByCode(ctx, claims.Subject)
		if err != nil {
			return actor.Actor{}, err
		}
		if student != nil {
			if !student.IsActive {
				return actor.Actor{}, portalerrors.New(portalerrors.Forbidden, "Inactive user")
			}
			return actor.Actor{Kind: actor.Student, ID: student.ID, StudentCode: student.StudentCode}, nil
		}
		return actor.Actor{}, portalerrors.New(portalerrors.Forbidden, "User not found")
	}

	if m.cfg.DeployTriggerToken != "" {
		if subtle.ConstantTimeCompare([]byte(deployToken), []byte(m.cfg.DeployTriggerToken)) != 1 {
			return actor.Actor{}, portalerrors.New(portalerrors.Forbidden, "Invalid deploy trigger token")
		}
		return actor.Actor{Kind: actor.DeployToken}, nil
	}

	return actor.Actor{}, portalerrors.New(portalerrors.Forbidden, "Missing authentication credentials")
}
