// SPDX-License-Identifier: MIT

package model

// SessionInfo is the public projection of a session: one boolean per state
// tag, derived purely from the record so impossible flag combinations
// cannot exist.
type SessionInfo struct {
	SessionID                int  `json:"sessionId"`
	IsUnknown                bool `json:"isUnknown"`
	IsVerified               bool `json:"isVerified"`
	IsStaged                 bool `json:"isStaged"`
	IsActivated              bool `json:"isActivated"`
	IsActivationPendingRetry bool `json:"isActivationPendingRetry"`
	IsActivationFailed       bool `json:"isActivationFailed"`
	IsSuccess                bool `json:"isSuccess"`
}

// UnknownSessionInfo is the synthetic record returned for ids with no
// session. Probing an arbitrary id is a first-class query, not an error.
func UnknownSessionInfo() SessionInfo {
	return SessionInfo{SessionID: -1, IsUnknown: true}
}

// InfoOf projects a session record into its public representation.
func InfoOf(s *Session) SessionInfo {
	if s == nil {
		return UnknownSessionInfo()
	}
	info := SessionInfo{SessionID: s.ID}
	switch s.State {
	case StateVerified:
		info.IsVerified = true
	case StateStaged:
		info.IsStaged = true
		info.IsActivationPendingRetry = s.PendingRetry
	case StateActivated:
		info.IsActivated = true
	case StateActivationFailed:
		info.IsActivationFailed = true
	case StateSuccess:
		info.IsSuccess = true
	default:
		return UnknownSessionInfo()
	}
	return info
}
