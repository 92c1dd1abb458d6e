package domain

import "fmt"

// Modality identifies which biometric channel produced a sample or score.
type Modality string

const (
	ModalityFace  Modality = "face"
	ModalityVoice Modality = "voice"
)

func ParseModality(s string) (Modality, error) {
	switch Modality(s) {
	case ModalityFace, ModalityVoice:
		return Modality(s), nil
	}
	return "", fmt.Errorf("unknown modality %q", s)
}
