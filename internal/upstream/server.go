package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cortexhub/anthropic-gateway/internal/config"
	"github.com/cortexhub/anthropic-gateway/internal/gatewayerr"
	"github.com/cortexhub/anthropic-gateway/internal/pipeline"
	"github.com/cortexhub/anthropic-gateway/internal/protocol"
)

// Layer occupies position 6: it executes the outbound HTTP call, attaches
// auth via the chosen key, and converts a failed round trip into a
// gatewayerr.Error with the upstream status code for the switching
// controller to classify (spec.md §4.6).
type Layer struct {
	provider  *config.Provider
	authStyle protocol.AuthStyle
	rotator   *KeyRotator
	client    *http.Client
	nativeSDK bool
	model     string
}

func NewLayer(provider *config.Provider, authStyle protocol.AuthStyle, rotator *KeyRotator, timeout time.Duration, model string) *Layer {
	return &Layer{
		provider:  provider,
		authStyle: authStyle,
		rotator:   rotator,
		client:    &http.Client{Timeout: timeout},
		nativeSDK: provider.Protocol == "openai",
		model:     model,
	}
}

func (l *Layer) Name() string { return "server" }

func (l *Layer) Process(ctx *pipeline.Context, env pipeline.Envelope, dir pipeline.Direction) (pipeline.Envelope, error) {
	if dir == pipeline.DirectionInbound {
		return env, nil // bytes already produced on the outbound visit
	}
	req, ok := env.(*http.Request)
	if !ok {
		return nil, gatewayerr.New(gatewayerr.KindInternal, "server", ctx.RequestID, "server layer expected *http.Request")
	}
	return l.execute(ctx.Context, req)
}

func (l *Layer) execute(ctx context.Context, req *http.Request) ([]byte, error) {
	key, err := l.rotator.Pick()
	if err != nil {
		return nil, gatewayerr.New(gatewayerr.KindRateLimit, "server", "", err.Error())
	}

	if l.nativeSDK {
		return l.executeNative(ctx, key, req)
	}
	return l.executeHTTP(ctx, key, req)
}

func (l *Layer) executeNative(ctx context.Context, key string, req *http.Request) ([]byte, error) {
	var body map[string]interface{}
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		json.Unmarshal(raw, &body)
	}
	encoded, status, err := executeViaOpenAISDK(ctx, l.provider.BaseURL, key, l.model, body)
	if err != nil {
		l.reportOutcome(key, status, err)
		return nil, classifyHTTPFailure("server", status, err)
	}
	l.rotator.ReportSuccess(key)
	return encoded, nil
}

func (l *Layer) executeHTTP(ctx context.Context, key string, req *http.Request) ([]byte, error) {
	attachAuth(req, l.authStyle, key)
	req = req.WithContext(ctx)

	resp, err := l.client.Do(req)
	if err != nil {
		l.rotator.ReportFailure(key)
		if ctx.Err() != nil {
			return nil, gatewayerr.New(gatewayerr.KindUpstreamTimeout, "server", "", err.Error())
		}
		return nil, gatewayerr.Wrap(gatewayerr.KindUpstreamServer, "server", "", 0, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		l.rotator.ReportFailure(key)
		return nil, gatewayerr.Wrap(gatewayerr.KindUpstreamProto, "server", "", resp.StatusCode, readErr)
	}

	if resp.StatusCode >= 400 {
		l.reportOutcome(key, resp.StatusCode, fmt.Errorf("upstream status %d", resp.StatusCode))
		return nil, classifyHTTPFailure("server", resp.StatusCode, fmt.Errorf("%s", string(body)))
	}
	l.rotator.ReportSuccess(key)
	return body, nil
}

func (l *Layer) reportOutcome(key string, status int, err error) {
	if status == http.StatusTooManyRequests {
		l.rotator.ReportRateLimited(key)
		return
	}
	l.rotator.ReportFailure(key)
}

func attachAuth(req *http.Request, style protocol.AuthStyle, key string) {
	switch style {
	case protocol.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+key)
	case protocol.AuthAPIKeyQueryParam:
		q := req.URL.Query()
		q.Set("key", key)
		req.URL.RawQuery = q.Encode()
	case protocol.AuthNone:
	}
}

// classifyHTTPFailure maps an upstream HTTP status to a gatewayerr.Kind; the
// switching controller's Classify then derives recoverability from this.
// Terminal statuses (400/404/413/414/415) get their own Kind so HTTPStatus
// carries the original code to the client (spec.md §7) instead of folding
// into KindUpstreamServer's generic 500.
func classifyHTTPFailure(layer string, status int, err error) *gatewayerr.Error {
	var kind gatewayerr.Kind
	switch {
	case status == 401 || status == 403:
		kind = gatewayerr.KindAuth
	case status == 429:
		kind = gatewayerr.KindRateLimit
	case status == 400 || status == 404 || status == 413 || status == 414 || status == 415:
		kind = gatewayerr.KindUpstreamClient
	case status >= 500:
		kind = gatewayerr.KindUpstreamServer
	default:
		kind = gatewayerr.KindUpstreamServer
	}
	return gatewayerr.Wrap(kind, layer, "", status, err)
}
