package domain

import (
	"fmt"
	"regexp"
	"strings"
)

type TokenKind int

const (
	TokenCreator TokenKind = iota + 1
	TokenOwner
	TokenRole
)

const (
	creatorKeyword = "creater"
	ownerKeyword   = "owner"
	rolePrefix     = "role_"
)

var roleNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Token names an identity relative to a tracked object: its creator, its
// current owner, or every member of a project role.
//
// Grammar: "creater" | "owner" | "role_" name.
type Token struct {
	Kind TokenKind
	Role string
}

func CreatorToken() Token          { return Token{Kind: TokenCreator} }
func OwnerToken() Token            { return Token{Kind: TokenOwner} }
func RoleToken(role string) Token  { return Token{Kind: TokenRole, Role: role} }
func (t Token) IsRole() bool       { return t.Kind == TokenRole }
func (t Token) Equal(o Token) bool { return t.Kind == o.Kind && t.Role == o.Role }

func ParseToken(s string) (Token, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == creatorKeyword:
		return CreatorToken(), nil
	case s == ownerKeyword:
		return OwnerToken(), nil
	case strings.HasPrefix(s, rolePrefix):
		name := strings.TrimPrefix(s, rolePrefix)
		if !roleNamePattern.MatchString(name) {
			return Token{}, fmt.Errorf("invalid role token %q", s)
		}
		return RoleToken(name), nil
	}
	return Token{}, fmt.Errorf("invalid owner token %q (want creater, owner or role_<name>)", s)
}

func (t Token) String() string {
	switch t.Kind {
	case TokenCreator:
		return creatorKeyword
	case TokenOwner:
		return ownerKeyword
	case TokenRole:
		return rolePrefix + t.Role
	}
	return ""
}

func (t Token) MarshalText() ([]byte, error) {
	s := t.String()
	if s == "" {
		return nil, fmt.Errorf("invalid token kind %d", int(t.Kind))
	}
	return []byte(s), nil
}

func (t *Token) UnmarshalText(b []byte) error {
	parsed, err := ParseToken(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TokenSet is an ordered, duplicate-free list of tokens. Order matters for
// owner assignment, where the first resolvable token wins.
type TokenSet []Token

// ParseTokenSet parses each item; items may themselves be comma separated.
func ParseTokenSet(items []string) (TokenSet, error) {
	var set TokenSet
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			tok, err := ParseToken(part)
			if err != nil {
				return nil, err
			}
			if !set.Contains(tok) {
				set = append(set, tok)
			}
		}
	}
	return set, nil
}

func (s TokenSet) Contains(t Token) bool {
	for _, x := range s {
		if x.Equal(t) {
			return true
		}
	}
	return false
}

func (s TokenSet) Strings() []string {
	out := make([]string, 0, len(s))
	for _, t := range s {
		out = append(out, t.String())
	}
	return out
}

// Roles returns the role names referenced by the set, in order.
func (s TokenSet) Roles() []string {
	var out []string
	for _, t := range s {
		if t.IsRole() {
			out = append(out, t.Role)
		}
	}
	return out
}
