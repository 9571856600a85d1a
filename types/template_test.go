package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTemplate(t *testing.T) {
	assert.NoError(t, ValidateTemplate("Olá {primeiro_nome}, sua turma {turma} começa amanhã"))
	assert.NoError(t, ValidateTemplate("Mensagem sem variáveis"))
	assert.EqualError(t, ValidateTemplate("Oi {nome}, token {token} {token} {abc}"),
		"unknown template variables [abc token] (allowed: [email nome primeiro_nome turma])")
}

func TestResolveTemplate(t *testing.T) {
	vars := TemplateVars("João Silva", "joao@test.com", "Python 101")
	assert.Equal(t, "Olá João, sua turma Python 101 começa amanhã",
		ResolveTemplate("Olá {primeiro_nome}, sua turma {turma} começa amanhã", vars))
	assert.Equal(t, "Turma: ", ResolveTemplate("Turma: {turma}", TemplateVars("", "", "")))
	assert.Equal(t, "keep {token}", ResolveTemplate("keep {token}", vars))
}
