package httpdir

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	domainchat "chatgate/internal/domain/chat"
	"chatgate/internal/domain/identity"
)

const DefaultTimeout = 3 * time.Second

// Client resolves member profiles against the identity service over HTTP.
type Client struct {
	base string
	hc   *http.Client
}

func New(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{base: strings.TrimRight(base, "/"), hc: hc}
}

// profileID accepts ids sent either as JSON strings or numbers.
type profileID string

func (id *profileID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = profileID(domainchat.NormalizeID(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("profile id: %w", err)
	}
	*id = profileID(n.String())
	return nil
}

type wireProfile struct {
	ID     profileID             `json:"id"`
	Type   domainchat.MemberType `json:"type"`
	Name   string                `json:"name"`
	Avatar string                `json:"avatar"`
	Email  string                `json:"email"`
}

type profilesResponse struct {
	Profiles []wireProfile `json:"profiles"`
}

type batchRequest struct {
	Members []domainchat.MemberRef `json:"members"`
}

func (c *Client) Hydrate(ctx context.Context, refs []domainchat.MemberRef) ([]identity.Profile, error) {
	if len(refs) == 0 {
		return []identity.Profile{}, nil
	}
	body, err := json.Marshal(batchRequest{Members: refs})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/profiles/batch", bytes.NewReader(body))
	if err != nil {
		return nil, unavailable(err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) SearchByName(ctx context.Context, fragment string) ([]identity.Profile, error) {
	q := url.Values{"name": []string{fragment}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/profiles/search?"+q.Encode(), nil)
	if err != nil {
		return nil, unavailable(err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]identity.Profile, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, unavailable(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, unavailable(fmt.Errorf("status %d", resp.StatusCode))
	}
	var out profilesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, unavailable(fmt.Errorf("decode profiles: %w", err))
	}
	profiles := make([]identity.Profile, 0, len(out.Profiles))
	for _, p := range out.Profiles {
		if p.ID == "" {
			continue
		}
		profiles = append(profiles, identity.Profile{
			ID:     string(p.ID),
			Type:   p.Type,
			Name:   p.Name,
			Avatar: p.Avatar,
			Email:  p.Email,
		})
	}
	return profiles, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", identity.ErrDirectoryUnavailable, err)
}

var _ identity.Directory = (*Client)(nil)
