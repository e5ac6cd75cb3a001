package login

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	adhttp "github.com/ohmynofan/netease-music-bot/internal/adapters/http"
)

type uidCandidate struct {
	method  string
	path    string
	encrypt bool
}

var uidCandidates = []uidCandidate{
	{http.MethodGet, "/api/nuser/account/get", false},
	{http.MethodGet, "/api/w/nuser/account/get", false},
	{http.MethodGet, "/api/v1/user/info", false},
	{http.MethodPost, "/weapi/w/nuser/account/get", true},
}

// DiscoverUID asks the account endpoints who owns the client's cookies. It returns an
// empty uid when none of them answers with one; the error is reserved for ctx and codec faults.
func DiscoverUID(ctx context.Context, client *adhttp.Client) (string, map[string]any, error) {
	for _, c := range uidCandidates {
		var payload any
		if c.method == http.MethodPost {
			payload = map[string]any{}
		}
		res, err := client.Call(ctx, c.method, c.path, payload, c.encrypt)
		if err != nil {
			return "", nil, err
		}
		if uid := extractUID(res.Body); uid != "" {
			client.Log.JustLog("UID " + uid + " discovered via " + c.path)
			return uid, res.Body, nil
		}
	}
	return "", nil, nil
}

// extractUID reads account.id, preferring profile.userId when both are present.
func extractUID(body map[string]any) string {
	uid := ""
	if account, ok := body["account"].(map[string]any); ok {
		uid = idString(account["id"])
	}
	if profile, ok := body["profile"].(map[string]any); ok {
		if id := idString(profile["userId"]); id != "" {
			uid = id
		}
	}
	return uid
}

func idString(v any) string {
	switch id := v.(type) {
	case float64:
		if id <= 0 {
			return ""
		}
		return strconv.FormatFloat(id, 'f', -1, 64)
	case json.Number:
		return id.String()
	case string:
		return strings.TrimSpace(id)
	default:
		return ""
	}
}
