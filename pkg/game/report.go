package game

import (
	"fmt"
	"strings"
	"time"
)

const reportTitle = "--- Battle report ---"

// AttackerReport is the text shown to the player who launched the attack.
func AttackerReport(r Result, attacker, defender string, at time.Time) string {
	if r.Undefended {
		return undefendedReport(defender, r.Loot)
	}
	outcome := "Defeat"
	if r.AttackerWon {
		outcome = "Victory"
	}
	var b strings.Builder
	writeHeader(&b, "Attack on", defender, "Assault", outcome, r.Luck, at)
	fmt.Fprintf(&b, "\nLoot captured: %d\n", int(r.Loot))
	writeSide(&b, "Attacking forces", attacker, r.AttackerLosses, r.AttackerInitial)
	writeSide(&b, "Defending forces", defender, r.DefenderLosses, r.DefenderInitial)
	return b.String()
}

// DefenderReport is the text persisted for the player who was attacked.
func DefenderReport(r Result, attacker, defender string, at time.Time) string {
	if r.Undefended {
		return undefendedReport(defender, r.Loot)
	}
	outcome := "Held"
	if r.AttackerWon {
		outcome = "Breached"
	}
	var b strings.Builder
	writeHeader(&b, "Defense against", attacker, "Defense", outcome, r.Luck, at)
	fmt.Fprintf(&b, "\nSupplies lost: %d\n", int(r.Loot))
	writeSide(&b, "Defending forces", defender, r.DefenderLosses, r.DefenderInitial)
	writeSide(&b, "Attacking forces", attacker, r.AttackerLosses, r.AttackerInitial)
	return b.String()
}

func undefendedReport(target string, loot float64) string {
	return fmt.Sprintf("Subject: attack on %s\nOutcome: easy victory\n\n"+
		"No resistance was offered. No losses.\nLoot captured: %d", target, int(loot))
}

func writeHeader(b *strings.Builder, kind, name, op, outcome string, luck float64, at time.Time) {
	b.WriteString(reportTitle + "\n\n")
	fmt.Fprintf(b, "Subject: %s %s\nDate: %s\n\nOperation: %s\nLuck: %+.0f%%\nOutcome: %s\n",
		kind, name, at.Format("02.01.2006 15:04"), op, luck*100, outcome)
}

func writeSide(b *strings.Builder, title, name string, losses, initial int) {
	pct := 0
	if initial > 0 {
		pct = roundHalfEven(float64(losses) / float64(initial) * 100)
	}
	fmt.Fprintf(b, "\n--- %s ---\nCommander: %s\nLosses: %d of %d (%d%%)\n", title, name, losses, initial, pct)
}
