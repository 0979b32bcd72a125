// Copyright 2021 Kaleido

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package identity

import (
	"context"
	"database/sql"
	"time"

	"github.com/hyperledger/firefly-exgateway/internal/conf"
	"github.com/hyperledger/firefly-exgateway/internal/errors"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
	log "github.com/sirupsen/logrus"
)

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		api_key         TEXT PRIMARY KEY,
		api_secret      TEXT NOT NULL,
		api_secret_hash TEXT NOT NULL DEFAULT '',
		username        TEXT NOT NULL,
		expiration      INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_username ON api_keys(username)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		username      TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		salt          TEXT NOT NULL,
		iterations    INTEGER NOT NULL,
		keylen        INTEGER NOT NULL,
		totp_enabled  INTEGER NOT NULL DEFAULT 0,
		role          TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS nonces (
		username TEXT PRIMARY KEY,
		nonce    INTEGER NOT NULL
	)`,
}

func init() {
	plugins.RegisterFactory("identity.sqlite", plugins.KindIdentity, func() plugins.Module {
		return &SQLiteStore{}
	})
}

// SQLiteStore keeps credentials, profiles and nonces in a local SQLite file
type SQLiteStore struct {
	plugins.Base
	conf *conf.SQLiteConf
	db   *sql.DB
}

// Configure checks the path is set
func (s *SQLiteStore) Configure(host plugins.Host) error {
	s.conf = &host.Config().Identity.SQLite
	if s.conf.Path == "" {
		return errors.Errorf(errors.ConfigIdentitySQLiteNoPath)
	}
	return nil
}

// Init opens the file and creates the tables
func (s *SQLiteStore) Init(ctx context.Context) (err error) {
	// nonce transactions take the write lock up front
	dsn := s.conf.Path + "?_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL"
	if s.db, err = sql.Open("sqlite3", dsn); err == nil {
		if err = s.db.PingContext(ctx); err != nil {
			s.db.Close()
		}
	}
	if err != nil {
		return errors.Errorf(errors.IdentitySQLiteOpen, s.conf.Path, err)
	}
	s.db.SetMaxOpenConns(1)
	for _, m := range sqliteMigrations {
		if _, err = s.db.ExecContext(ctx, m); err != nil {
			s.db.Close()
			return errors.Errorf(errors.IdentitySQLiteMigrate, s.conf.Path, err)
		}
	}
	log.Infof("Opened SQLite identity store at %s", s.conf.Path)
	return nil
}

// Shutdown closes the file
func (s *SQLiteStore) Shutdown(ctx context.Context) error {
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
	return nil
}

func (s *SQLiteStore) storeErr(err error) error {
	return errors.Errorf(errors.IdentityStoreFailed, "identity.sqlite", err)
}

// LookupAPIKey selects from api_keys
func (s *SQLiteStore) LookupAPIKey(ctx context.Context, key string) (*APICredential, error) {
	cred := &APICredential{}
	var expiration int64
	err := s.db.QueryRowContext(ctx,
		`SELECT api_key, api_secret, api_secret_hash, username, expiration FROM api_keys WHERE api_key = ?`, key).
		Scan(&cred.APIKey, &cred.APISecret, &cred.APISecretHash, &cred.Username, &expiration)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, s.storeErr(err)
	}
	if expiration > 0 {
		cred.Expiration = time.Unix(expiration, 0)
	}
	return cred, nil
}

// LookupProfile selects from profiles
func (s *SQLiteStore) LookupProfile(ctx context.Context, username string) (*Profile, error) {
	p := &Profile{}
	err := s.db.QueryRowContext(ctx,
		`SELECT username, password_hash, salt, iterations, keylen, totp_enabled, role FROM profiles WHERE username = ?`, username).
		Scan(&p.Username, &p.PasswordHash, &p.Salt, &p.Iterations, &p.KeyLen, &p.TOTPEnabled, &p.Role)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, s.storeErr(err)
	}
	return p, nil
}

// PutAPICredential inserts or replaces a row in api_keys
func (s *SQLiteStore) PutAPICredential(ctx context.Context, cred *APICredential) error {
	var expiration int64
	if !cred.Expiration.IsZero() {
		expiration = cred.Expiration.Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO api_keys (api_key, api_secret, api_secret_hash, username, expiration) VALUES (?, ?, ?, ?, ?)`,
		cred.APIKey, cred.APISecret, cred.APISecretHash, cred.Username, expiration)
	if err != nil {
		return s.storeErr(err)
	}
	return nil
}

// PutProfile inserts or replaces a row in profiles
func (s *SQLiteStore) PutProfile(ctx context.Context, p *Profile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO profiles (username, password_hash, salt, iterations, keylen, totp_enabled, role) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Username, p.PasswordHash, p.Salt, p.Iterations, p.KeyLen, p.TOTPEnabled, p.Role)
	if err != nil {
		return s.storeErr(err)
	}
	return nil
}

// CheckAndConsume moves the nonce forward in a transaction. The update only
// matches a lower stored nonce, and the insert only succeeds for a new user.
func (s *SQLiteStore) CheckAndConsume(ctx context.Context, username string, nonce int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.storeErr(err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE nonces SET nonce = ? WHERE username = ? AND nonce < ?`, nonce, username, nonce)
	if err != nil {
		return s.storeErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		res, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO nonces (username, nonce) VALUES (?, ?)`, username, nonce)
		if err != nil {
			return s.storeErr(err)
		}
		if n, _ = res.RowsAffected(); n == 0 {
			return errors.Errorf(errors.IdentityNonceReplay, nonce, username)
		}
	}
	if err = tx.Commit(); err != nil {
		return s.storeErr(err)
	}
	return nil
}
