// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generator

import (
	"fmt"
	"strings"
)

// Fixed replies outside the generation path.
const (
	BlockedMessage       = "Please keep your questions appropriate and school-related."
	OutputBlockedMessage = "I'm sorry, I can't share that answer. Please keep your questions appropriate and school-related."
	ErrorMessage         = "I'm sorry, I encountered an error while processing your request. Please try again."
	GenerationFallback   = "I'm sorry, I encountered an error while processing your request. Please try again or contact the school directly for assistance."
	defaultAssistantName = "Orcutt Schools Assistant"
	defaultOrganization  = "Orcutt Schools"
)

// DefaultTopics are listed in the greeting.
var DefaultTopics = []string{
	"Academic programs and curriculum",
	"School hours and schedules",
	"Contact information and staff directory",
	"Sports and extracurricular activities",
	"Transportation and bus routes",
	"Lunch menus and nutrition",
	"School calendar and events",
	"Enrollment and registration",
	"School policies and procedures",
}

// Profile describes who the assistant speaks for.
type Profile struct {
	Name         string   `yaml:"name"`
	Organization string   `yaml:"organization"`
	Topics       []string `yaml:"topics"`
}

// DefaultProfile is the school district help desk.
func DefaultProfile() Profile {
	return Profile{
		Name:         defaultAssistantName,
		Organization: defaultOrganization,
		Topics:       append([]string(nil), DefaultTopics...),
	}
}

func (p Profile) withDefaults() Profile {
	def := DefaultProfile()
	if p.Name == "" {
		p.Name = def.Name
	}
	if p.Organization == "" {
		p.Organization = def.Organization
	}
	if len(p.Topics) == 0 {
		p.Topics = def.Topics
	}
	return p
}

// Greeting renders the greeting reply.
func (p Profile) Greeting() string {
	var b strings.Builder
	b.WriteString("Hello! I'm here to help you with information about our schools. Ask me about:\n\n")
	for _, t := range p.Topics {
		b.WriteString("- ")
		b.WriteString(t)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nWhat would you like to know about %s?", p.Organization)
	return b.String()
}

// Farewell renders the farewell reply.
func (p Profile) Farewell() string {
	return fmt.Sprintf("Thank you for using the %s! If you have any more questions about our schools, feel free to ask anytime. Have a great day!", p.Name)
}
