// Package project discovers the Cloud Code project identifier attached
// to a freshly authenticated account.
package project

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/pysugar/nexusctl/internal/util"
)

// BaseURLs are probed in order; earlier entries are the more specific
// endpoints. The first well-formed project id wins.
var BaseURLs = []string{
	"https://daily-cloudcode-pa.googleapis.com/v1internal",
	"https://cloudcode-pa.googleapis.com/v1internal",
	"https://daily-cloudcode-pa.sandbox.googleapis.com/v1internal",
}

const (
	probeBody    = `{"metadata": {"ideType": "IDE_UNSPECIFIED", "pluginType": "GEMINI"}}`
	probeTimeout = 15 * time.Second
)

// Resolver probes the loadCodeAssist endpoints for a project id.
type Resolver struct {
	httpClient *http.Client
	baseURLs   []string
}

// NewResolver builds a resolver over the default endpoint list.
func NewResolver() *Resolver {
	return &Resolver{
		httpClient: &http.Client{Timeout: probeTimeout},
		baseURLs:   BaseURLs,
	}
}

// Resolve returns the first project id any candidate endpoint reports.
// Every per-endpoint failure is swallowed; when all candidates fail the
// result is an empty string and the caller proceeds without a project.
func (r *Resolver) Resolve(ctx context.Context, accessToken string) string {
	for _, base := range r.baseURLs {
		id, err := r.probe(ctx, base, accessToken)
		if err != nil {
			log.Debugf("project probe %s: %v", base, err)
			continue
		}
		if id != "" {
			log.Debugf("project id %s from %s", id, base)
			return id
		}
	}
	return ""
}

func (r *Resolver) probe(ctx context.Context, base, accessToken string) (string, error) {
	url := base + ":loadCodeAssist"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(probeBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %s", resp.Status)
	}
	log.Debugf("loadCodeAssist response from %s: %s", base, util.TruncateBytes(body))

	if id := gjson.GetBytes(body, "cloudaicompanionProject").String(); id != "" {
		return id, nil
	}
	return gjson.GetBytes(body, "codeAssistConfig.projectId").String(), nil
}
