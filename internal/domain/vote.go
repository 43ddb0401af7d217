package domain

import (
	"errors"
	"net"
	"strings"
)

// VoterKind tells user-id voters apart from anonymous IP voters.
type VoterKind string

const (
	VoterUser VoterKind = "user"
	VoterIP   VoterKind = "ip"
)

// ErrNoVoterIdentity is returned when a vote carries neither a user id nor a
// client address.
var ErrNoVoterIdentity = errors.New("voter has neither a user id nor a client address")

// VoterIdentity identifies who cast a helpfulness vote. A review holds at most
// one vote per identity. The kind is part of the identity so a user id can
// never collide with an address.
type VoterIdentity struct {
	Kind  VoterKind
	Value string
}

func (v VoterIdentity) String() string {
	return string(v.Kind) + ":" + v.Value
}

// NewVoterIdentity prefers the authenticated user id and falls back to the
// normalized client address.
func NewVoterIdentity(userID, clientIP string) (VoterIdentity, error) {
	if id := strings.TrimSpace(userID); id != "" {
		return VoterIdentity{Kind: VoterUser, Value: id}, nil
	}
	if ip := NormalizeIP(clientIP); ip != "" {
		return VoterIdentity{Kind: VoterIP, Value: ip}, nil
	}
	return VoterIdentity{}, ErrNoVoterIdentity
}

const ipv4MappedPrefix = "::ffff:"

// NormalizeIP canonicalises a client address for vote deduplication: any port
// is dropped, an IPv4-mapped IPv6 prefix is stripped and the IPv6 loopback
// becomes 127.0.0.1.
func NormalizeIP(raw string) string {
	ip := strings.TrimSpace(raw)
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	ip = strings.TrimPrefix(strings.TrimSuffix(ip, "]"), "[")

	if len(ip) > len(ipv4MappedPrefix) && strings.EqualFold(ip[:len(ipv4MappedPrefix)], ipv4MappedPrefix) {
		ip = ip[len(ipv4MappedPrefix):]
	}
	if ip == "::1" {
		return "127.0.0.1"
	}
	return ip
}

// VoteCounts are the recounted helpful and unhelpful totals of a review.
type VoteCounts struct {
	Helpful   int `json:"helpful"`
	Unhelpful int `json:"unhelpful"`
}

// Total is the number of distinct voters.
func (c VoteCounts) Total() int {
	return c.Helpful + c.Unhelpful
}
