// Package semantics implements the four named update-semantics modes
// (spec.md §4.B) as a pure table of rules evaluated against a command.
// Nothing here touches the writer, the log, or locks — it only answers
// "what must this call enforce".
package semantics

import "github.com/shardcore/updatecore/internal/config"

// Mode is an alias kept local so callers of this package don't need to
// import internal/config just to name a mode.
type Mode = config.SemanticsMode

const (
	Classic       = config.ModeClassic
	StrictInsert  = config.ModeStrictInsert
	StrictUpdate  = config.ModeStrictUpdate
	VersionHybrid = config.ModeVersionHybrid
)

// Rule carries whether a prerequisite/check is enforced and, if so, the
// fault reason a caller should raise when it's violated.
type Rule struct {
	Enforced bool
	Reason   string
}

func on(reason string) Rule  { return Rule{Enforced: true, Reason: reason} }
func off() Rule               { return Rule{} }

// Intent describes a single add/delete command's relevant attributes,
// decoupled from corecmd.AddCmd so this package stays a pure function
// of (mode, intent) -> rules.
type Intent struct {
	RequestedVersion int64
	IsUpdate         bool // false for delete-by-id/by-query
}

// Rules is the full evaluated rule set for one command under one mode.
type Rules struct {
	RequireUniqueKeyFieldInSchema Rule
	RequireUniqueKeyInDoc         Rule
	RequireVersionFieldInSchema   Rule
	RequireUpdateLog              Rule
	NeedToLookupExistingVersion   Rule
	RequireExistingDocument       Rule
	RequireNoExistingDocument     Rule
	RequireVersionEquality        Rule
	NeedToDeleteOldVersion        Rule
}

// Evaluate returns the rule table for mode against intent, per the
// table in spec.md §4.B.
func Evaluate(mode Mode, intent Intent) Rules {
	switch mode {
	case Classic:
		return Rules{
			NeedToDeleteOldVersion: on("classic mode always replaces by unique key"),
		}
	case StrictInsert:
		return Rules{
			RequireUniqueKeyFieldInSchema: on("strict-insert requires a unique key field"),
			RequireUniqueKeyInDoc:         on("strict-insert requires the unique key in the document"),
			NeedToLookupExistingVersion:   on("strict-insert must check for an existing document"),
			RequireNoExistingDocument:     on("strict-insert rejects adds to an existing key"),
			NeedToDeleteOldVersion:        on("replace semantics on update"),
		}
	case StrictUpdate:
		return Rules{
			RequireUniqueKeyFieldInSchema: on("strict-update requires a unique key field"),
			RequireUniqueKeyInDoc:         on("strict-update requires the unique key in the document"),
			NeedToLookupExistingVersion:   on("strict-update must check for an existing document"),
			RequireExistingDocument:       on("strict-update rejects adds to an absent key"),
			NeedToDeleteOldVersion:        on("replace semantics on update"),
		}
	case VersionHybrid:
		rules := Rules{
			RequireUniqueKeyFieldInSchema: on("version-hybrid requires a unique key field"),
			RequireUniqueKeyInDoc:         on("version-hybrid requires the unique key in the document"),
			RequireVersionFieldInSchema:   on("version-hybrid requires a version field"),
			RequireUpdateLog:              on("version-hybrid requires an update log"),
			NeedToLookupExistingVersion:   on("version-hybrid must check the current version"),
			NeedToDeleteOldVersion:        on("replace semantics on update"),
		}
		if intent.IsUpdate {
			if intent.RequestedVersion > 0 {
				rules.RequireExistingDocument = on("requestedVersion>0 asserts an existing document")
				rules.RequireVersionEquality = on("requestedVersion>0 asserts the current version")
			}
			if intent.RequestedVersion < 0 {
				rules.RequireNoExistingDocument = on("requestedVersion<0 asserts no existing document")
			}
		}
		return rules
	default:
		return Rules{}
	}
}

// enforcedRules lists every Rule field that is set, for callers that
// want to walk the table generically.
func (r Rules) enforcedRules() []Rule {
	all := []Rule{
		r.RequireUniqueKeyFieldInSchema, r.RequireUniqueKeyInDoc,
		r.RequireVersionFieldInSchema, r.RequireUpdateLog,
		r.NeedToLookupExistingVersion, r.RequireExistingDocument,
		r.RequireNoExistingDocument, r.RequireVersionEquality,
		r.NeedToDeleteOldVersion,
	}
	out := make([]Rule, 0, len(all))
	for _, rule := range all {
		if rule.Enforced {
			out = append(out, rule)
		}
	}
	return out
}

// EnforcedReasons returns the reason strings for every enforced rule,
// useful for WrongUsage diagnostics.
func (r Rules) EnforcedReasons() []string {
	rules := r.enforcedRules()
	reasons := make([]string, len(rules))
	for i, rule := range rules {
		reasons[i] = rule.Reason
	}
	return reasons
}
