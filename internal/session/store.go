// File: internal/session/store.go
package session

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	homedir "github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/xkilldash9x/authgate/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FileStore persists one Session record per target domain as a JSON file.
// The layout is the plain cookie-list form that browser-automation cookie
// jar APIs accept, so a record can be replayed outside this tool as well.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

// Ensure FileStore satisfies the store contract.
var _ schemas.SessionStore = (*FileStore)(nil)

// NewFileStore opens (and creates if needed) the store directory. An empty
// dir resolves to ~/.authgate/sessions.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if dir == "" {
		home, err := homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		dir = filepath.Join(home, ".authgate", "sessions")
	} else {
		expanded, err := homedir.Expand(dir)
		if err != nil {
			return nil, fmt.Errorf("expanding store dir %q: %w", dir, err)
		}
		dir = expanded
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating store directory %q: %w", dir, err)
	}

	return &FileStore{dir: dir, logger: logger.Named("session_store")}, nil
}

// Save atomically replaces the record for the session's target domain. The
// record is written to a temp file in the same directory and renamed into
// place, so a concurrent reader never observes a partial write.
func (fs *FileStore) Save(sess *schemas.Session) error {
	if err := structuralCheck(sess); err != nil {
		return fmt.Errorf("refusing to save session: %w", err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	final := fs.recordPath(sess.TargetDomain)
	tmp, err := os.CreateTemp(fs.dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp record: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp record: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing session record: %w", err)
	}

	fs.logger.Info("Session persisted.",
		zap.String("domain", sess.TargetDomain),
		zap.Int("cookies", len(sess.Cookies)),
		zap.String("path", final))
	return nil
}

// Load returns the stored session for the domain, or nil when no record
// exists or the record fails structural validation. A structurally broken
// record is reported as absent, not as an error: the caller falls back to
// re-acquisition either way.
func (fs *FileStore) Load(targetDomain string) (*schemas.Session, error) {
	path := fs.recordPath(targetDomain)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading session record %q: %w", path, err)
	}

	sess, err := Decode(data)
	if err != nil {
		fs.logger.Warn("Discarding malformed session record.",
			zap.String("path", path), zap.Error(err))
		return nil, nil
	}
	if sess.TargetDomain != targetDomain {
		fs.logger.Warn("Discarding session record scoped to a different domain.",
			zap.String("record_domain", sess.TargetDomain),
			zap.String("requested_domain", targetDomain))
		return nil, nil
	}
	return sess, nil
}

// Decode parses and structurally validates a raw session record.
func Decode(data []byte) (*schemas.Session, error) {
	var sess schemas.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decoding session record: %w", err)
	}
	if err := structuralCheck(&sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// structuralCheck verifies required fields. This is structural validity
// only; whether the session still authenticates is the validator's call.
func structuralCheck(sess *schemas.Session) error {
	switch {
	case sess == nil:
		return fmt.Errorf("session is nil")
	case sess.TargetDomain == "":
		return fmt.Errorf("session has no target domain")
	case sess.CapturedAt.IsZero():
		return fmt.Errorf("session has no capture timestamp")
	case len(sess.Cookies) == 0:
		return fmt.Errorf("session has no cookies")
	}
	for i, c := range sess.Cookies {
		if c.Name == "" {
			return fmt.Errorf("cookie %d has no name", i)
		}
	}
	return nil
}

func (fs *FileStore) recordPath(domain string) string {
	return filepath.Join(fs.dir, sanitizeDomain(domain)+".json")
}

// sanitizeDomain maps a domain to a safe file name component.
func sanitizeDomain(domain string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, domain)
	if mapped == "" {
		return "_"
	}
	return mapped
}

// RegistrableDomain reduces a URL to its effective TLD+1, the scope key a
// Session is stored and matched under.
func RegistrableDomain(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing URL %q: %w", rawURL, err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("URL %q has no host", rawURL)
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// Bare hostnames and IPs (common in test labs) have no public
		// suffix; scope to the host itself.
		return host, nil
	}
	return domain, nil
}
