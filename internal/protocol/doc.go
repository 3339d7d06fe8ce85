// Package protocol implements the viewer command protocol.
// Viewers send INICIAR_TRANSCRICAO to opt in to transcripts and PAUSAR_TRANSCRICAO
// to opt out; any other text is reported as ErrUnknownCommand and ignored by the gateway.
package protocol
