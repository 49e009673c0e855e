package dotpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type user struct{ name string }

func (u *user) Attr(name string) Lookup {
	if u == nil {
		return Missing
	}
	switch name {
	case "username":
		return Found(u.name)
	case "shout":
		return Found(u.name + "!")
	}
	return Missing
}

type membership struct {
	user *user
	tag  *string
}

func (m *membership) Attr(name string) Lookup {
	if m == nil {
		return Missing
	}
	switch name {
	case "user":
		return Found(m.user)
	case "tag":
		if m.tag == nil {
			return Found(nil)
		}
		return Found(*m.tag)
	}
	return Missing
}

func TestResolve(t *testing.T) {
	m := &membership{user: &user{name: "ana"}}

	l := Resolve(m, "user.username")
	assert.True(t, l.OK())
	assert.Equal(t, "ana", l.Value())

	assert.Equal(t, "ana!", Value(m, "user.shout"), "computed attributes resolve like fields")
}

func TestResolveNilLinks(t *testing.T) {
	noUser := &membership{}
	assert.False(t, Resolve(noUser, "user.username").OK())
	assert.Nil(t, Value(noUser, "user.username"))

	var nilRoot *membership
	assert.False(t, Resolve(nilRoot, "user").OK())
	assert.Nil(t, Value(nil, "user"))
}

func TestResolveUnknownAndNonNode(t *testing.T) {
	m := &membership{user: &user{name: "ana"}}
	assert.False(t, Resolve(m, "user.missing").OK())
	assert.False(t, Resolve(m, "user.username.length").OK(), "strings are not nodes")
}

func TestResolveFoundNil(t *testing.T) {
	l := Resolve(&membership{}, "tag")
	assert.True(t, l.OK())
	assert.Nil(t, l.Value())
	assert.Equal(t, "x", Resolve(&membership{}, "nope").Or("x"))
}

func TestValues(t *testing.T) {
	m := &membership{user: &user{name: "bo"}}
	got := Values(m, []string{"user.username", "user.nope"})
	assert.Equal(t, map[string]any{"user.username": "bo", "user.nope": nil}, got)
}
