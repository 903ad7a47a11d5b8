package services

import "testing"

func TestMaskAddress(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Москва, ул. Ленина, д. 5, кв. 12", "Москва, ул. Ленина, ***"},
		{"Kazan,Baumana 1", "Kazan, Baumana 1, ***"},
		{"Somewhere", "Somewhere"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := maskAddress(tt.in); got != tt.want {
			t.Errorf("maskAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMaskPhone(t *testing.T) {
	tests := []struct{ in, want string }{
		{"+79991234567", "+79***67"},
		{"12345", "123***45"},
		{"1234", "1234"},
	}
	for _, tt := range tests {
		if got := maskPhone(tt.in); got != tt.want {
			t.Errorf("maskPhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
