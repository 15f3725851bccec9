package gatewayerr

import (
	"errors"
	"testing"
)

func TestHTTPStatus_UpstreamClientCarriesOriginalCode(t *testing.T) {
	for _, status := range []int{400, 404, 413, 414, 415} {
		err := Wrap(KindUpstreamClient, "server", "req-1", status, errors.New("boom"))
		if got := err.HTTPStatus(); got != status {
			t.Errorf("status %d: HTTPStatus() = %d, want %d", status, got, status)
		}
		if !err.IsTerminal() {
			t.Errorf("status %d: expected IsTerminal() true", status)
		}
		if err.IsRecoverable() {
			t.Errorf("status %d: expected IsRecoverable() false", status)
		}
	}
}

func TestHTTPStatus_UpstreamServerStaysFiveHundred(t *testing.T) {
	err := Wrap(KindUpstreamServer, "server", "req-1", 502, errors.New("boom"))
	if got := err.HTTPStatus(); got != 500 {
		t.Errorf("HTTPStatus() = %d, want 500", got)
	}
	if err.IsTerminal() {
		t.Error("expected a 502 upstream_server error not to be terminal")
	}
	if !err.IsRecoverable() {
		t.Error("expected a 502 upstream_server error to be recoverable")
	}
}
