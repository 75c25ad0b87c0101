package service

import (
	"context"
	"time"

	"github.com/sentinelgate/ruleengine/internal/domain/rule"
	"github.com/sentinelgate/ruleengine/internal/domain/signing"
	"github.com/sentinelgate/ruleengine/internal/errs"
)

// InstallSignedModule verifies a module fetched via the signed-module
// endpoints (spec §6 `/modules/{id}/signed`) and, only if verification
// succeeds, decodes and inserts it into the cache (spec §4.E: "a verified
// module is cached; an invalid module is never cached and never executed").
func (e *Engine) InstallSignedModule(ctx context.Context, id rule.ID, meta rule.Metadata, signed signing.SignedModule, maxAge time.Duration) error {
	if e.verifier == nil {
		return errs.New(errs.KindConfigError, "no verifier configured: cannot install signed module %s", id).WithRuleID(string(id))
	}
	if err := e.verifier.Verify(signed, maxAge); err != nil {
		return err
	}
	compiled, err := rule.Decode(signed.Content)
	if err != nil {
		return errs.Wrap(errs.KindValidationError, err, "decoding signed module %s", id).WithRuleID(string(id))
	}
	meta.ID = id
	entry := rule.Entry{
		Metadata: meta,
		RawBytes: signed.Content,
		Compiled: compiled,
		LoadedAt: time.Now().UnixMilli(),
	}
	return e.cat.Insert(ctx, entry)
}
