package message

import "testing"

func TestValidateObjectPath(t *testing.T) {
	cases := []struct {
		path string
		ok   bool
	}{
		{"/", true},
		{"/foo/bar", true},
		{"/foo_bar/Baz2", true},
		{"da/di/du", false},
		{"/da//du", false},
		{"/da/di/du/", false},
		{"/da$$/di", false},
		{"", false},
	}
	for _, c := range cases {
		err := ValidateObjectPath(c.path)
		if (err == nil) != c.ok {
			t.Errorf("ValidateObjectPath(%q) = %v, want ok=%v", c.path, err, c.ok)
		}
	}
}

func TestValidateInterface(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"org.freedesktop.DBus", true},
		{"com.example", true},
		{"1leading.digits", false},
		{"have_more_than_one_element", false},
		{"", false},
		{"org.free-desktop", false},
	}
	for _, c := range cases {
		err := ValidateInterface(c.name)
		if (err == nil) != c.ok {
			t.Errorf("ValidateInterface(%q) = %v, want ok=%v", c.name, err, c.ok)
		}
	}
}

func TestValidateBusName(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"org.freedesktop.DBus", true},
		{":1.42", true},
		{":1.leading-dash-ok", true},
		{"1leading.digits", false},
		{"have_more_than_one_element", false},
		{"", false},
	}
	for _, c := range cases {
		err := ValidateBusName(c.name)
		if (err == nil) != c.ok {
			t.Errorf("ValidateBusName(%q) = %v, want ok=%v", c.name, err, c.ok)
		}
	}
}

func TestValidateMember(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"Foo", true},
		{"foo_bar", true},
		{"Shouldnt.have.dots", false},
		{"", false},
	}
	for _, c := range cases {
		err := ValidateMember(c.name)
		if (err == nil) != c.ok {
			t.Errorf("ValidateMember(%q) = %v, want ok=%v", c.name, err, c.ok)
		}
	}
}

func TestMessageValidate(t *testing.T) {
	m := &Message{Header: Header{Type: TypeCall, Serial: 1}}
	if err := m.Validate(); err != ErrInvalidHeaderFields {
		t.Fatalf("got %v, want ErrInvalidHeaderFields", err)
	}

	m.Header.Serial = 0
	if err := m.Validate(); err != ErrZeroSerial {
		t.Fatalf("got %v, want ErrZeroSerial", err)
	}
}
