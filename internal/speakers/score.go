package speakers

import (
	"strings"
	"unicode"
)

// Scores are the lexical evidence for each role in one segment.
type Scores struct {
	Advisor    int
	Client     int
	ThirdParty int
}

type cueGroup struct {
	weight int
	cues   []string
}

var (
	advisorPlural = cueGroup{2, []string{
		"ofrecemos", "podemos", "tenemos", "contamos con", "le ofrecemos", "nuestro", "nuestra", "nuestros", "nuestras",
	}}
	advisorService = cueGroup{1, []string{
		"servicio", "registro", "registrar", "activación", "activacion", "activar", "contrato", "plan",
		"promoción", "promocion", "beneficio", "beneficios", "cobertura", "tarifa",
	}}
	advisorFormal = cueGroup{2, []string{
		"señor", "señora", "señorita", "caballero", "me permite", "me podría", "me podria",
		"por seguridad", "por motivos de seguridad", "con gusto", "usted",
	}}
	advisorDocument = cueGroup{2, []string{
		"cédula", "cedula", "documento de identidad", "número de documento", "numero de documento",
		"dni", "identificación", "identificacion",
	}}
	advisorIntro = []string{
		"mi nombre es", "le habla", "le saluda", "me comunico de", "le llamo de", "le llamamos de", "en nombre de",
	}

	clientSingular = cueGroup{2, []string{
		"yo", "mi", "me", "quiero", "necesito", "puedo", "tengo", "quisiera",
	}}
	clientObjection = cueGroup{3, []string{
		"no me interesa", "no estoy interesado", "no estoy interesada", "muy caro", "demasiado caro",
		"ya tengo", "no gracias", "no quiero",
	}}
	clientInterrogative = cueGroup{2, []string{
		"cuánto", "cuanto cuesta", "cuánto cuesta", "dónde", "por qué", "para qué",
	}}

	thirdPartyTransfer = cueGroup{3, []string{
		"supervisor", "supervisora", "transferir", "le transfiero", "lo transfiero", "la transfiero",
		"área técnica", "area tecnica", "departamento técnico", "soporte técnico",
		"le comunico con", "lo comunico con", "la comunico con", "le paso con",
	}}
)

const (
	introWeightEarly = 5 // self-introduction within the first introWindow segments
	introWeightLate  = 2
	introWindow      = 3
	longTurnWords    = 12
	shortTurnWords   = 4
)

// ScoreSegment computes role evidence for the segment at position index.
func ScoreSegment(text string, index int) Scores {
	norm := normalize(text)
	words := wordCount(norm)
	question := isQuestion(text)

	var s Scores
	s.Advisor += advisorPlural.score(norm)
	s.Advisor += advisorService.score(norm)
	s.Advisor += advisorFormal.score(norm)
	s.Advisor += advisorDocument.score(norm)
	if containsAny(norm, advisorIntro) {
		if index < introWindow {
			s.Advisor += introWeightEarly
		} else {
			s.Advisor += introWeightLate
		}
	}
	if words >= longTurnWords {
		s.Advisor++
	}

	s.Client += clientSingular.score(norm)
	s.Client += clientObjection.score(norm)
	if question {
		s.Client++
	}
	s.Client += clientInterrogative.score(norm)
	if question && words <= shortTurnWords {
		s.Client += 2
	}

	s.ThirdParty += thirdPartyTransfer.score(norm)
	return s
}

// IsClientQuestion reports a question phrased the way customers ask them:
// short, or built around a price/location/reason interrogative.
func IsClientQuestion(text string) bool {
	if !isQuestion(text) {
		return false
	}
	norm := normalize(text)
	return wordCount(norm) <= shortTurnWords || clientInterrogative.score(norm) > 0
}

func (g cueGroup) score(norm string) int {
	if containsAny(norm, g.cues) {
		return g.weight
	}
	return 0
}

func containsAny(norm string, cues []string) bool {
	for _, c := range cues {
		if strings.Contains(norm, " "+c+" ") {
			return true
		}
	}
	return false
}

func isQuestion(text string) bool {
	return strings.ContainsAny(text, "?¿")
}

// normalize lowercases, replaces punctuation with spaces and pads the result
// so cues can be matched on word boundaries.
func normalize(text string) string {
	lower := strings.ToLower(text)
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, lower)
	return " " + strings.Join(strings.Fields(mapped), " ") + " "
}

func wordCount(norm string) int {
	return len(strings.Fields(norm))
}
