package services

import "strings"

// maskAddress keeps the first two comma-separated parts (city, street).
func maskAddress(address string) string {
	parts := strings.Split(address, ",")
	if len(parts) < 2 {
		return address
	}
	return strings.TrimSpace(parts[0]) + ", " + strings.TrimSpace(parts[1]) + ", ***"
}

// maskPhone keeps the first three and last two characters.
func maskPhone(phone string) string {
	r := []rune(phone)
	if len(r) < 5 {
		return phone
	}
	return string(r[:3]) + "***" + string(r[len(r)-2:])
}
