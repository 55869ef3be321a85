package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCredentials is returned when a credential blob cannot be used.
var ErrInvalidCredentials = errors.New("client: invalid credentials")

// Cookie is one entry of the opaque credential snapshot. Field names follow
// the browser-export format operators paste into the dashboard.
type Cookie struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Expires  string `json:"expires,omitempty"`
	HostOnly bool   `json:"hostOnly,omitempty"`
}

// Credentials is the persisted credential snapshot.
type Credentials []Cookie

// ParseCredentials decodes a JSON array of cookies. The array must be non-empty.
func ParseCredentials(raw string) (Credentials, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidCredentials)
	}
	var creds Credentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if len(creds) == 0 {
		return nil, fmt.Errorf("%w: empty array", ErrInvalidCredentials)
	}
	return creds, nil
}

// Get returns the value of the first cookie named key. Some exports use
// "name" instead of "key"; both decode into Key.
func (c Credentials) Get(key string) (string, bool) {
	for _, ck := range c {
		if ck.Key == key {
			return ck.Value, true
		}
	}
	return "", false
}

// UnmarshalJSON accepts both "key" and "name" for the cookie name.
func (ck *Cookie) UnmarshalJSON(data []byte) error {
	type plain Cookie
	var aux struct {
		plain
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*ck = Cookie(aux.plain)
	if ck.Key == "" {
		ck.Key = aux.Name
	}
	return nil
}

// Clone returns a copy safe to hand to other goroutines.
func (c Credentials) Clone() Credentials {
	if c == nil {
		return nil
	}
	out := make(Credentials, len(c))
	copy(out, c)
	return out
}
