// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

package mount

import (
	"fmt"
	"os/user"
	"strconv"
	"strings"
)

// RequiredPrefix is the mandatory leading option group every assembled
// mount-option string begins with.
const RequiredPrefix = "uhelper=devkit,nodev,nosuid"

// GroupResolver answers the group-membership questions the
// allow_gid_self rule needs. The real implementation wraps os/user;
// tests supply a fake.
type GroupResolver interface {
	PrimaryGID(uid int) (int, bool)
	IsMember(uid, gid int) bool
}

// OSGroupResolver resolves uid/gid membership via the system's user
// and group databases.
type OSGroupResolver struct{}

// PrimaryGID looks up uid's primary group.
func (OSGroupResolver) PrimaryGID(uid int) (int, bool) {
	u, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		return 0, false
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return 0, false
	}
	return gid, true
}

// IsMember reports whether uid belongs to gid, primary or supplementary.
func (r OSGroupResolver) IsMember(uid, gid int) bool {
	if primary, ok := r.PrimaryGID(uid); ok && primary == gid {
		return true
	}

	u, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		return false
	}
	ids, err := u.GroupIds()
	if err != nil {
		return false
	}
	want := strconv.Itoa(gid)
	for _, id := range ids {
		if id == want {
			return true
		}
	}
	return false
}

// Decision is the validator's output for one mount attempt: the
// assembled option string and the set of authorization actions that
// must all be granted before the mount proceeds.
type Decision struct {
	OptionString string
	AuthActions  []string
}

func matchesKey(key, option string) bool {
	if strings.HasSuffix(key, "=") {
		return strings.HasPrefix(option, key)
	}
	return key == option
}

func ruleValue(key, option string) string {
	return strings.TrimPrefix(option, key)
}

func substituteDefault(opt string, uid int, primaryGID int, haveGID bool) (string, bool) {
	switch {
	case opt == "uid=":
		return fmt.Sprintf("uid=%d", uid), true
	case opt == "gid=":
		if !haveGID {
			return "", false
		}
		return fmt.Sprintf("gid=%d", primaryGID), true
	default:
		return opt, true
	}
}

// Validate implements spec §4.3: defaults prepend, per-option
// admission in allow/allow_uid_self/allow_gid_self/restricted order,
// then assembly with the mandatory prefix.
func Validate(table Table, fsType string, uid int, options []string, resolver GroupResolver) (Decision, error) {
	policy := table.Filesystems[fsType]

	primaryGID, haveGID := resolver.PrimaryGID(uid)

	var candidates []string
	for _, d := range policy.Defaults {
		if sub, ok := substituteDefault(d, uid, primaryGID, haveGID); ok {
			candidates = append(candidates, sub)
		}
	}
	candidates = append(candidates, options...)

	var accepted []string
	var authActions []string

	for _, opt := range candidates {
		if strings.Contains(opt, ",") {
			return Decision{}, fmt.Errorf("option %q contains a comma", opt)
		}

		if admitted, action, ok := admit(policy, table, opt, uid, resolver); ok {
			accepted = append(accepted, opt)
			if admitted && action != "" {
				authActions = append(authActions, action)
			}
			continue
		}

		return Decision{}, fmt.Errorf("option %q is not allowed for filesystem %q", opt, fsType)
	}

	parts := append([]string{RequiredPrefix}, accepted...)
	return Decision{
		OptionString: strings.Join(parts, ","),
		AuthActions:  authActions,
	}, nil
}

// admit decides one option. The bool return is whether the option is
// admitted at all; action is non-empty when admission required
// authorization.
func admit(policy FilesystemPolicy, table Table, opt string, uid int, resolver GroupResolver) (admitted bool, action string, ok bool) {
	for _, key := range policy.Allow {
		if matchesKey(key, opt) {
			return true, "", true
		}
	}
	for _, key := range table.UniversalAllow {
		if matchesKey(key, opt) {
			return true, "", true
		}
	}

	for _, key := range policy.AllowUIDSelf {
		if matchesKey(key, opt) {
			v, err := strconv.Atoi(ruleValue(key, opt))
			if err == nil && v == uid {
				return true, "", true
			}
		}
	}

	for _, key := range policy.AllowGIDSelf {
		if matchesKey(key, opt) {
			g, err := strconv.Atoi(ruleValue(key, opt))
			if err == nil && resolver.IsMember(uid, g) {
				return true, "", true
			}
		}
	}

	for _, rule := range policy.Restricted {
		if matchesKey(rule.Key, opt) {
			return true, rule.Action, true
		}
	}
	for _, rule := range table.UniversalRestricted {
		if matchesKey(rule.Key, opt) {
			return true, rule.Action, true
		}
	}

	return false, "", false
}
