package concierge

import (
	"fmt"
	"strings"
)

// Persona defaults.
const (
	DefaultName  = "Elena"
	DefaultBrand = "Dream it marketing"
	DefaultVoice = "Zephyr"
)

// Instructions builds the system prompt for the agent persona. resorts lists
// the portfolio the agent may talk about; showTool names the tool it must
// call whenever it names one of them. Empty arguments fall back to defaults.
func Instructions(name, brand string, resorts []string, showTool string) string {
	if name == "" {
		name = DefaultName
	}
	if brand == "" {
		brand = DefaultBrand
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %q, the elite virtual concierge for %q.\n", name, brand)
	b.WriteString("Your tone is sophisticated, warm, and highly professional.\n")
	if len(resorts) > 0 {
		fmt.Fprintf(&b, "You are an expert on the resort portfolio: %s.\n", strings.Join(resorts, ", "))
	}
	b.WriteString("Your goal is to help prospective members understand the value of their time and the flexibility of our club.\n")
	if showTool != "" {
		fmt.Fprintf(&b, "Whenever you mention a resort by name, call %s with that resort so the guest can see it.\n", showTool)
	}
	b.WriteString("Keep responses concise and elegant.")
	return b.String()
}
