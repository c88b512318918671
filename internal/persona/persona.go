// Package persona lists the demo identities a user can ask as.
package persona

import "strings"

// Persona is one demo employee.
type Persona struct {
	Email      string `mapstructure:"email" json:"email"`
	Name       string `mapstructure:"name" json:"name"`
	Role       string `mapstructure:"role" json:"role"`
	Department string `mapstructure:"department" json:"department"`
}

// Label is the one-line form shown in the UI.
func (p Persona) Label() string {
	if p.Name == "" {
		return p.Email + " (" + p.Role + ")"
	}
	return p.Name + " · " + p.Role
}

var demoEmployees = []Persona{
	{Email: "grace.patel@company.com", Name: "Grace Patel", Role: "HR Manager", Department: "HR"},
	{Email: "lisa.brown@company.com", Name: "Lisa Brown", Role: "HR Director", Department: "HR"},
	{Email: "alice.chen@company.com", Name: "Alice Chen", Role: "Senior Engineer", Department: "Engineering"},
	{Email: "bob.martinez@company.com", Name: "Bob Martinez", Role: "Engineer", Department: "Engineering"},
	{Email: "carol.kim@company.com", Name: "Carol Kim", Role: "Staff Engineer", Department: "Engineering"},
	{Email: "david.okonkwo@company.com", Name: "David Okonkwo", Role: "Junior Engineer", Department: "Engineering"},
	{Email: "isabel.santos@company.com", Name: "Isabel Santos", Role: "Engineering Manager", Department: "Engineering"},
	{Email: "elena.rodriguez@company.com", Name: "Elena Rodriguez", Role: "Senior Analyst", Department: "Finance"},
	{Email: "james.wilson@company.com", Name: "James Wilson", Role: "Finance Manager", Department: "Finance"},
	{Email: "oscar.williams@company.com", Name: "Oscar Williams", Role: "CFO", Department: "Executive"},
	{Email: "frank.zhang@company.com", Name: "Frank Zhang", Role: "Account Executive", Department: "Sales"},
	{Email: "karen.johnson@company.com", Name: "Karen Johnson", Role: "Sales Manager", Department: "Sales"},
	{Email: "henry.lee@company.com", Name: "Henry Lee", Role: "SRE", Department: "DevOps"},
	{Email: "mike.davis@company.com", Name: "Mike Davis", Role: "DevOps Lead", Department: "DevOps"},
	{Email: "nancy.chen@company.com", Name: "Nancy Chen", Role: "CTO", Department: "Executive"},
	{Email: "paula.garcia@company.com", Name: "Paula Garcia", Role: "CEO", Department: "Executive"},
	{Email: "test.engineer@company.com", Name: "Test Engineer", Role: "Engineer", Department: "Demo"},
	{Email: "test.manager@company.com", Name: "Test Manager", Role: "Engineering Manager", Department: "Demo"},
	{Email: "test.admin@company.com", Name: "Test Admin", Role: "Admin", Department: "Demo"},
}

// Demo returns a copy of the built-in demo employees.
func Demo() []Persona {
	return append([]Persona(nil), demoEmployees...)
}

// Directory is an ordered, de-duplicated persona list.
type Directory struct {
	personas []Persona
}

// NewDirectory builds a Directory. Entries without an email are skipped, as
// are repeated emails. An empty result falls back to the demo list.
func NewDirectory(list []Persona) *Directory {
	seen := make(map[string]bool, len(list))
	out := make([]Persona, 0, len(list))
	for _, p := range list {
		p.Email = strings.TrimSpace(p.Email)
		p.Role = strings.TrimSpace(p.Role)
		key := strings.ToLower(p.Email)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	if len(out) == 0 {
		out = Demo()
	}
	return &Directory{personas: out}
}

// All returns the personas in order.
func (d *Directory) All() []Persona {
	return append([]Persona(nil), d.personas...)
}

// Default is the first persona.
func (d *Directory) Default() Persona {
	return d.personas[0]
}

// Lookup finds a persona by email, case-insensitively.
func (d *Directory) Lookup(email string) (Persona, bool) {
	needle := strings.ToLower(strings.TrimSpace(email))
	for _, p := range d.personas {
		if strings.ToLower(p.Email) == needle {
			return p, true
		}
	}
	return Persona{}, false
}

// Next steps delta positions from email, wrapping around. An unknown email
// starts from the first persona.
func (d *Directory) Next(email string, delta int) Persona {
	idx := 0
	needle := strings.ToLower(strings.TrimSpace(email))
	for i, p := range d.personas {
		if strings.ToLower(p.Email) == needle {
			idx = i
			break
		}
	}
	n := len(d.personas)
	idx = ((idx+delta)%n + n) % n
	return d.personas[idx]
}

// RoleFor returns the role to use for email: the persona's role when the
// email is known, otherwise fallback.
func (d *Directory) RoleFor(email, fallback string) string {
	if p, ok := d.Lookup(email); ok && p.Role != "" {
		return p.Role
	}
	return fallback
}
