// Package auth implements IPTV play-token rotation (spec.md §4.4),
// grounded on the teacher's HTTP client conventions and
// original_source/iptv_auth.py's player_api.php protocol.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/streampull/streampull/internal/utils"
)

const playTokenParam = "play_token"

// Refresher rotates an expired play_token by calling the provider's
// player_api.php endpoint.
type Refresher struct {
	Client    *http.Client
	UserAgent string
}

// New returns a Refresher using client for its POST requests.
func New(client *http.Client, userAgent string) *Refresher {
	return &Refresher{Client: client, UserAgent: userAgent}
}

// HasPlayToken reports whether rawURL's query string carries a play_token
// parameter, the trigger for an initial refresh before the first request
// (spec.md §4.4).
func HasPlayToken(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Query().Get(playTokenParam) != ""
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Refresh rotates rawURL's play_token. mac, stream_id and type are read
// from rawURL's own query string (original_source/iptv_auth.py:
// authenticate), matching the account the play_token already belongs to;
// username and password are both set to mac, as the original does. Any
// failure — malformed URL, a missing mac/stream/type parameter, request
// error, non-200 response, or a response missing a token field — returns
// rawURL unchanged; the caller's subsequent request will then either
// succeed against the stale token or fail as before (spec.md §4.4 step 4).
func (r *Refresher) Refresh(ctx context.Context, rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	q := u.Query()
	mac := q.Get("mac")
	streamID := q.Get("stream")
	typ := q.Get("type")
	if mac == "" || streamID == "" || typ == "" {
		return rawURL
	}

	apiQuery := url.Values{}
	apiQuery.Set("username", mac)
	apiQuery.Set("password", mac)
	apiQuery.Set("action", "get_link")
	apiQuery.Set("stream_id", streamID)
	apiQuery.Set("type", typ)

	apiURL := fmt.Sprintf("%s://%s/player_api.php?%s", u.Scheme, u.Host, apiQuery.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, nil)
	if err != nil {
		return rawURL
	}
	req.Header.Set("User-Agent", r.UserAgent)

	resp, err := r.Client.Do(req)
	if err != nil {
		utils.Debug("auth: refresh request failed: %v", err)
		return rawURL
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		utils.Debug("auth: refresh returned status %d", resp.StatusCode)
		return rawURL
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Token == "" {
		utils.Debug("auth: refresh response had no token")
		return rawURL
	}

	q.Set(playTokenParam, body.Token)
	u.RawQuery = q.Encode()
	utils.Debug("auth: rotated play_token for %s", u.Host)
	return u.String()
}
