package internaldefs

import (
	goTrust "github.com/cepmachine/goTrust"
	"github.com/cepmachine/goTrust/rbac"
)

// Series is one engine counter within a family, told apart by the family's
// label. Value is empty for unlabeled families.
type Series struct {
	ID    goTrust.MetricID
	Value string
}

// CounterFamily is a set of engine counters published under one name.
type CounterFamily struct {
	Name   string
	Help   string
	Label  string
	Series []Series
}

// HistogramDef names one engine histogram.
type HistogramDef struct {
	ID   goTrust.MetricID
	Name string
	Help string
}

var CounterFamilies = []CounterFamily{
	{
		Name:  "gotrust_logins_total",
		Help:  "Login attempts by outcome.",
		Label: "outcome",
		Series: []Series{
			{goTrust.MetricLoginSuccess, "success"},
			{goTrust.MetricLoginFailure, "failure"},
			{goTrust.MetricLoginMFARequired, "mfa_required"},
		},
	},
	{
		Name:  "gotrust_mfa_enrollments_total",
		Help:  "MFA enrollment transitions.",
		Label: "transition",
		Series: []Series{
			{goTrust.MetricMFASetupStarted, "setup_started"},
			{goTrust.MetricMFAEnabled, "enabled"},
			{goTrust.MetricMFADisabled, "disabled"},
		},
	},
	{
		Name:  "gotrust_mfa_verifications_total",
		Help:  "Second-factor verifications by result.",
		Label: "result",
		Series: []Series{
			{goTrust.MetricMFASuccess, "success"},
			{goTrust.MetricMFAFailure, "failure"},
		},
	},
	{
		Name:  "gotrust_backup_codes_total",
		Help:  "Backup code events: consumed at login, left low, set regenerated.",
		Label: "event",
		Series: []Series{
			{goTrust.MetricBackupCodeUsed, "used"},
			{goTrust.MetricBackupCodesLow, "low"},
			{goTrust.MetricBackupCodesRegenerated, "regenerated"},
		},
	},
	{
		Name:  "gotrust_tokens_total",
		Help:  "Bearer tokens issued and verification results.",
		Label: "event",
		Series: []Series{
			{goTrust.MetricTokenIssued, "issued"},
			{goTrust.MetricTokenVerified, "verified"},
			{goTrust.MetricTokenExpired, "expired"},
			{goTrust.MetricTokenInvalid, "invalid"},
		},
	},
	{
		Name:  "gotrust_authorizations_total",
		Help:  "Authorization decisions.",
		Label: "decision",
		Series: []Series{
			{goTrust.MetricPermissionGranted, "granted"},
			{goTrust.MetricPermissionDenied, "denied"},
		},
	},
	{
		Name:  "gotrust_role_changes_total",
		Help:  "Custom role mutations.",
		Label: "change",
		Series: []Series{
			{goTrust.MetricRoleCreated, "created"},
			{goTrust.MetricRoleUpdated, "updated"},
			{goTrust.MetricRoleDeleted, "deleted"},
		},
	},
	{
		Name:   "gotrust_store_errors_total",
		Help:   "Enrollment or role store failures.",
		Series: []Series{{ID: goTrust.MetricStoreError}},
	},
}

var HistogramDefs = []HistogramDef{
	{ID: goTrust.MetricVerifyLatency, Name: "gotrust_verify_latency_seconds", Help: "Bearer token verification latency."},
}

const (
	AuditDroppedName = "gotrust_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."

	RolesName  = "gotrust_roles"
	RolesHelp  = "Roles known to the registry by kind."
	RolesLabel = "kind"
)

// RoleCounts splits roles into system and custom.
func RoleCounts(roles []rbac.Role) (system, custom uint64) {
	for _, r := range roles {
		if r.IsSystemRole {
			system++
		} else {
			custom++
		}
	}
	return system, custom
}

// HistogramBounds mirrors goTrust.HistogramBounds in seconds, plus +Inf.
var HistogramBounds = []string{
	"0.0001",
	"0.00025",
	"0.0005",
	"0.001",
	"0.005",
	"0.01",
	"0.05",
	"+Inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) (out [8]uint64) {
	var running uint64
	for i, n := range raw {
		running += n
		out[i] = running
	}
	return out
}
