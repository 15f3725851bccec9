package switching

import "github.com/cortexhub/anthropic-gateway/internal/gatewayerr"

// Recoverability is the outcome of classifying one pipeline error
// (spec.md §4.7).
type Recoverability string

const (
	Recoverable    Recoverability = "recoverable"
	NonRecoverable Recoverability = "non_recoverable"
	Terminal       Recoverability = "terminal"
)

// Classify applies the priority-ordered rule set from spec.md §4.7. Terminal
// is checked first since a 400-class status always wins regardless of kind;
// then non-recoverable auth; everything else recoverable falls through to
// the gatewayerr.Error's own IsRecoverable judgment.
func Classify(err *gatewayerr.Error) Recoverability {
	if err.IsTerminal() {
		return Terminal
	}
	if err.Kind == gatewayerr.KindAuth {
		return NonRecoverable
	}
	if err.IsRecoverable() {
		return Recoverable
	}
	return NonRecoverable
}
