// Package rulesource reads and writes the user-editable rule sources kept in
// the state store.
//
// The user block collection holds two kinds of records: "pkg|ip|port" custom
// firewall rules and plain blacklist domains. The reader separates them by
// the presence of the record separator.
package rulesource

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"grimm.is/warden/internal/domain"
	"grimm.is/warden/internal/policy"
	"grimm.is/warden/internal/state"
	"grimm.is/warden/internal/validation"
)

// Bucket names
const (
	BucketUserBlock = "user_block"
	BucketUserWhite = "user_white"
	BucketApps      = "apps"
	BucketSettings  = "settings"
)

// Settings keys
const (
	KeyDNS1 = "dns1"
	KeyDNS2 = "dns2"
)

// AppInfo holds the policy flags of one installed application.
type AppInfo struct {
	Restricted  bool `json:"restricted"`
	Whitelisted bool `json:"whitelisted"`
	User        bool `json:"user"`
}

// Source reads and edits rule sources on top of a state store.
type Source struct {
	store state.Store
}

// New ensures the rule source buckets exist and returns a Source.
func New(store state.Store) (*Source, error) {
	for _, b := range []string{BucketUserBlock, BucketUserWhite, BucketApps, BucketSettings} {
		if err := store.EnsureBucket(b); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", b, err)
		}
	}
	return &Source{store: store}, nil
}

// BlockRecords returns every raw user block record, sorted.
func (s *Source) BlockRecords() ([]string, error) {
	return s.store.ListKeys(BucketUserBlock)
}

// WhiteRecords returns every raw user whitelist record, sorted.
func (s *Source) WhiteRecords() ([]string, error) {
	return s.store.ListKeys(BucketUserWhite)
}

// CustomRuleRecords returns the "pkg|ip|port" records of the block list.
func (s *Source) CustomRuleRecords() ([]string, error) {
	return s.blockRecords(true)
}

// UserBlacklist returns the plain domain records of the block list.
func (s *Source) UserBlacklist() ([]string, error) {
	return s.blockRecords(false)
}

func (s *Source) blockRecords(scoped bool) ([]string, error) {
	all, err := s.BlockRecords()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, rec := range all {
		if policy.IsScopedRecord(rec) == scoped {
			out = append(out, rec)
		}
	}
	return out, nil
}

// UserWhitelist returns all whitelist records, both "pkg|url" overrides and
// plain domains.
func (s *Source) UserWhitelist() ([]string, error) {
	return s.WhiteRecords()
}

// RestrictedApps returns apps denied on mobile data.
func (s *Source) RestrictedApps() ([]string, error) {
	return s.appsWhere(func(a AppInfo) bool { return a.Restricted })
}

// WhitelistedApps returns apps exempt from domain filtering.
func (s *Source) WhitelistedApps() ([]string, error) {
	return s.appsWhere(func(a AppInfo) bool { return a.Whitelisted })
}

// UserApps returns user-installed apps, the targets of per-app DNS.
func (s *Source) UserApps() ([]string, error) {
	return s.appsWhere(func(a AppInfo) bool { return a.User })
}

// Apps returns every known app with its flags.
func (s *Source) Apps() (map[string]AppInfo, error) {
	keys, err := s.store.ListKeys(BucketApps)
	if err != nil {
		return nil, err
	}
	apps := make(map[string]AppInfo, len(keys))
	for _, k := range keys {
		var info AppInfo
		if err := s.store.GetJSON(BucketApps, k, &info); err != nil {
			return nil, fmt.Errorf("failed to read app %s: %w", k, err)
		}
		apps[k] = info
	}
	return apps, nil
}

func (s *Source) appsWhere(match func(AppInfo) bool) ([]string, error) {
	apps, err := s.Apps()
	if err != nil {
		return nil, err
	}
	var out []string
	for name, info := range apps {
		if match(info) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// DNS returns the persisted DNS pair. Missing values are empty strings;
// validation happens at compile time.
func (s *Source) DNS() (dns1, dns2 string, err error) {
	if dns1, err = s.setting(KeyDNS1); err != nil {
		return "", "", err
	}
	if dns2, err = s.setting(KeyDNS2); err != nil {
		return "", "", err
	}
	return dns1, dns2, nil
}

func (s *Source) setting(key string) (string, error) {
	v, err := s.store.Get(BucketSettings, key)
	if errors.Is(err, state.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// AddBlock validates and stores a block record: either a custom rule
// "pkg|ip|port" or a domain. Domains are stored normalized.
func (s *Source) AddBlock(record string) (string, error) {
	rec, err := canonicalBlock(record)
	if err != nil {
		return "", err
	}
	return rec, s.store.Set(BucketUserBlock, rec, nil)
}

// AddWhite validates and stores a whitelist record: either an override
// "pkg|url" or a domain.
func (s *Source) AddWhite(record string) (string, error) {
	rec, err := canonicalWhite(record)
	if err != nil {
		return "", err
	}
	return rec, s.store.Set(BucketUserWhite, rec, nil)
}

// RemoveBlock deletes a block record. It returns state.ErrNotFound when the
// record does not exist.
func (s *Source) RemoveBlock(record string) error {
	if rec, err := canonicalBlock(record); err == nil {
		record = rec
	}
	return s.store.Delete(BucketUserBlock, record)
}

// RemoveWhite deletes a whitelist record.
func (s *Source) RemoveWhite(record string) error {
	if rec, err := canonicalWhite(record); err == nil {
		record = rec
	}
	return s.store.Delete(BucketUserWhite, record)
}

// PutApp stores the flags of an app, replacing previous ones.
func (s *Source) PutApp(app string, info AppInfo) error {
	if app == policy.AllApps {
		return fmt.Errorf("app identifier %q is reserved", app)
	}
	if err := validation.ValidateAppIdentifier(app); err != nil {
		return err
	}
	return s.store.SetJSON(BucketApps, app, info)
}

// RemoveApp forgets an app.
func (s *Source) RemoveApp(app string) error {
	return s.store.Delete(BucketApps, app)
}

// SetDNS persists the DNS pair. Both addresses must be IPv4, or both empty
// to clear the override.
func (s *Source) SetDNS(dns1, dns2 string) error {
	dns1, dns2 = strings.TrimSpace(dns1), strings.TrimSpace(dns2)
	if dns1 != "" || dns2 != "" {
		if err := validation.ValidateIPv4(dns1); err != nil {
			return fmt.Errorf("dns1: %w", err)
		}
		if err := validation.ValidateIPv4(dns2); err != nil {
			return fmt.Errorf("dns2: %w", err)
		}
	}
	return s.store.SetBatch(BucketSettings, map[string][]byte{
		KeyDNS1: []byte(dns1),
		KeyDNS2: []byte(dns2),
	})
}

func canonicalBlock(record string) (string, error) {
	record = strings.TrimSpace(record)
	if !policy.IsScopedRecord(record) {
		return domain.Normalize(record)
	}
	rule, reason := policy.ParseCustomRecord(record)
	if reason != "" {
		return "", fmt.Errorf("invalid custom rule %q: %s", record, reason)
	}
	if err := validation.ValidateAppIdentifier(rule.App); err != nil {
		return "", err
	}
	if err := validation.ValidateIPOrCIDR(rule.IPAddress); err != nil {
		return "", err
	}
	if err := validation.ValidatePortSpec(rule.Port); err != nil {
		return "", err
	}
	return strings.Join([]string{rule.App, rule.IPAddress, rule.Port}, domain.Separator), nil
}

func canonicalWhite(record string) (string, error) {
	record = strings.TrimSpace(record)
	if !policy.IsScopedRecord(record) {
		return domain.Normalize(record)
	}
	ov, reason := policy.ParseOverrideRecord(record)
	if reason != "" {
		return "", fmt.Errorf("invalid whitelist override %q: %s", record, reason)
	}
	if err := validation.ValidateAppIdentifier(ov.App); err != nil {
		return "", err
	}
	url, err := domain.Normalize(ov.URL)
	if err != nil {
		return "", err
	}
	return ov.App + domain.Separator + url, nil
}
