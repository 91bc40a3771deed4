package responder

import (
	"context"
	"strings"
	"sync"
)

// Rule answers Reply when the message contains any of Keywords
// (case-insensitive substring).
type Rule struct {
	Keywords []string `json:"keywords"`
	Reply    string   `json:"reply"`
}

// Script is the data behind a Scripted responder. Rules are checked in order;
// Fallback replies rotate when no rule matches.
type Script struct {
	Rules    []Rule   `json:"rules"`
	Fallback []string `json:"fallback"`
}

// DefaultScript is the clinic demo script.
func DefaultScript() Script {
	return Script{
		Rules: []Rule{
			{
				Keywords: []string{"dor"},
				Reply:    "Sinto muito que esteja passando por isso. Pode me descrever melhor onde sente essa dor e sua intensidade de 1 a 10?",
			},
			{
				Keywords: []string{"urgente", "emergência"},
				Reply:    "Entendo a urgência da sua situação. Vou priorizar seu atendimento. Enquanto isso, está em um local seguro? Precisa de orientação imediata?",
			},
			{
				Keywords: []string{"horário", "agendar"},
				Reply:    "Claro! Temos disponibilidade para hoje às 16h, amanhã às 9h ou 14h. Qual horário funciona melhor para você?",
			},
		},
		Fallback: []string{
			"Olá! Sou a Carol, atendente virtual da clínica. Como posso ajudar você hoje?",
			"Entendi sua situação. Para que eu possa ajudar melhor, pode me informar há quanto tempo está sentindo esses sintomas?",
			"Obrigada pelas informações! Vou verificar os horários disponíveis para sua consulta. Você tem preferência por manhã ou tarde?",
			"Perfeito! Encontrei disponibilidade para amanhã às 14h com a Dra. Ana. Confirmo o agendamento?",
			"Agendamento confirmado! Você receberá o link da videochamada por aqui 30 minutos antes da consulta. Posso ajudar em mais alguma coisa?",
		},
	}
}

// Scripted is the local stand-in for a language model.
type Scripted struct {
	script Script

	mu   sync.Mutex
	next int
}

func NewScripted(script Script) *Scripted {
	return &Scripted{script: script}
}

func (s *Scripted) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	text := strings.ToLower(req.LastMessage)
	for _, rule := range s.script.Rules {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
				return rule.Reply, nil
			}
		}
	}

	if len(s.script.Fallback) == 0 {
		return "", ErrEmptyReply
	}
	s.mu.Lock()
	reply := s.script.Fallback[s.next%len(s.script.Fallback)]
	s.next++
	s.mu.Unlock()
	return reply, nil
}
