package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lueurxax/profilewatch/internal/core/domain"
	apperrors "github.com/lueurxax/profilewatch/internal/core/errors"
)

func TestRepairMojibake(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "latin1 decoded utf8", in: "PrÃ³ximos a Vencer", want: "Próximos a Vencer"},
		{name: "double encoded", in: "PrÃƒÂ³ximos", want: "Próximos"},
		{name: "windows-1252 quote", in: "Itâ€™s due", want: "It’s due"},
		{name: "already correct", in: "Próximos Ñandú", want: "Próximos Ñandú"},
		{name: "ascii", in: "Factura 2026", want: "Factura 2026"},
		{name: "empty", in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RepairMojibake(tt.in))
		})
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize("  PrÃ³ximos   a\tVENCER ")

	assert.Equal(t, "  PrÃ³ximos   a\tVENCER ", got.Original)
	assert.Contains(t, got.Repaired, "Próximos")
	assert.Equal(t, "proximos a vencer", got.Folded)
}

func TestFold(t *testing.T) {
	assert.Equal(t, "canon anual", Fold("Cañón  ANUAL"))
	assert.Equal(t, "strasse", Fold("STRASSE"))
	assert.Equal(t, "", Fold(" \t\n"))
}

func TestAccentSymmetry(t *testing.T) {
	accented := domain.Message{Subject: "Próximos a vencer"}
	plain := domain.Message{Subject: "Proximos a vencer"}
	broken := domain.Message{Body: "Aviso: PrÃ³ximos a vencer esta semana"}

	withAccent, err := Compile("Próximos")
	require.NoError(t, err)

	withoutAccent, err := Compile("proximos")
	require.NoError(t, err)

	for _, p := range []Pattern{withAccent, withoutAccent} {
		assert.True(t, MatchesMessage(accented, p), p.Criterion)
		assert.True(t, MatchesMessage(plain, p), p.Criterion)
		assert.True(t, MatchesMessage(broken, p), p.Criterion)
	}

	assert.Equal(t, withAccent.Signature(), withoutAccent.Signature())
}

func TestMatchesAnyField(t *testing.T) {
	p, err := Compile("billing")
	require.NoError(t, err)

	assert.True(t, MatchesMessage(domain.Message{Subject: "Billing run"}, p))
	assert.True(t, MatchesMessage(domain.Message{Body: "see billing"}, p))
	assert.True(t, MatchesMessage(domain.Message{Sender: "Billing <billing@example.com>"}, p))
	assert.False(t, MatchesMessage(domain.Message{Subject: "Invoice", Body: "paid"}, p))
}

func TestCompileRejectsEmpty(t *testing.T) {
	_, err := Compile("  ́ ")
	require.ErrorIs(t, err, apperrors.ErrInvalidCriteria)
}

func TestSenderAllowed(t *testing.T) {
	msg := domain.Message{Sender: "Facturación <FACTURAS@Example.com>"}

	assert.True(t, SenderAllowed(msg, nil))
	assert.True(t, SenderAllowed(msg, []string{"facturas@example.com"}))
	assert.True(t, SenderAllowed(msg, []string{"other", "facturacion"}))
	assert.False(t, SenderAllowed(msg, []string{"noreply@example.com"}))
	assert.True(t, SenderAllowed(msg, []string{" "}), "filters that fold to nothing are ignored")
}
