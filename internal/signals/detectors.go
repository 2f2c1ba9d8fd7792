package signals

import "github.com/polizaops/triage/internal/transcript"

// Detector weights. AI rejection carries a fixed weight above every other
// family; exact topic phrases outrank paraphrases.
const (
	weightRejection  = 1.0
	weightExact      = 0.9
	weightOverride   = 0.8
	weightTransfer   = 0.7
	weightParaphrase = 0.6
	weightInfo       = 0.5
	weightRecall     = 0.5
)

type roleFilter int

const (
	anySpeaker roleFilter = iota
	userOnly
	agentOnly
)

type pattern struct {
	phrase   string
	strength float64
	speaker  roleFilter
}

type detector struct {
	family   Family
	topic    Topic
	patterns []pattern
}

func user(strength float64, phrases ...string) []pattern {
	return withRole(userOnly, strength, phrases)
}

func agent(strength float64, phrases ...string) []pattern {
	return withRole(agentOnly, strength, phrases)
}

func anyone(strength float64, phrases ...string) []pattern {
	return withRole(anySpeaker, strength, phrases)
}

func withRole(r roleFilter, strength float64, phrases []string) []pattern {
	out := make([]pattern, len(phrases))
	for i, p := range phrases {
		out[i] = pattern{phrase: Fold(p), strength: strength, speaker: r}
	}
	return out
}

func merge(sets ...[]pattern) []pattern {
	var out []pattern
	for _, s := range sets {
		out = append(out, s...)
	}
	return out
}

// detectors is the full fan-out. Phrases are stored folded; matching is
// substring containment over the folded turn text.
var detectors = []detector{
	{
		family: FamilyAIRejection,
		patterns: merge(
			user(weightRejection,
				"no quiero hablar con una maquina",
				"no quiero hablar con la maquina",
				"no quiero hablar con un robot",
				"no quiero hablar con maquinas",
				"paseme con una persona",
				"quiero hablar con una persona",
				"quiero hablar con un humano",
			),
			user(weightOverride,
				"una persona de verdad",
				"con un operador",
			),
		),
	},
	{
		family: FamilyNonPolicyholder,
		patterns: merge(
			user(weightOverride,
				"no soy el titular",
				"no soy la titular",
				"llamo de parte de",
				"el titular es mi",
				"la titular es mi",
			),
			user(weightParaphrase,
				"soy su hijo",
				"soy su hija",
				"soy su mujer",
				"soy su marido",
			),
		),
	},
	{
		family: FamilyIncompleteData,
		patterns: merge(
			agent(weightOverride,
				"me faltan datos",
				"nos faltan datos",
				"no me consta toda la informacion",
				"le volveremos a llamar cuando",
				"necesitariamos que nos facilitara",
				"quedamos a la espera de sus datos",
			),
			agent(weightParaphrase,
				"no dispongo de todos los datos",
				"cuando tenga la documentacion vuelva a llamarnos",
			),
		),
	},
	{
		family: FamilyHumanTransfer,
		patterns: agent(weightTransfer,
			"le paso con mis companeros",
			"le paso con un companero",
			"le paso con un compañero",
			"le paso con un agente",
			"le transfiero",
			"ahora le atiende un companero",
			"le pasamos con el departamento",
		),
	},
	{
		family: FamilySpecific,
		topic:  TopicPaymentMethod,
		patterns: merge(
			anyone(weightExact,
				"cambiar a mensual",
				"cambiar a trimestral",
				"cambiar a semestral",
				"fraccionar el pago",
				"fraccionamiento",
				"cambiar la forma de pago",
			),
			anyone(weightParaphrase,
				"pagar cada mes",
				"pagar mes a mes",
				"pago anual",
			),
		),
	},
	{
		family: FamilySpecific,
		topic:  TopicBankAccount,
		patterns: merge(
			anyone(weightExact,
				"cambiar mi cuenta bancaria",
				"cambiar la cuenta bancaria",
				"cambiar cuenta",
				"cambio de cuenta",
				"nueva cuenta bancaria",
				"domiciliar el pago en otra cuenta",
			),
			anyone(weightParaphrase,
				"otra cuenta del banco",
				"me he cambiado de banco",
			),
		),
	},
	{
		family: FamilySpecific,
		topic:  TopicAddress,
		patterns: merge(
			anyone(weightExact,
				"cambio de direccion",
				"cambiar mi direccion",
				"cambiar la direccion",
				"nueva direccion",
			),
			anyone(weightParaphrase,
				"me he mudado",
				"nos hemos mudado",
			),
		),
	},
	{
		family: FamilySpecific,
		topic:  TopicEffectiveDate,
		patterns: merge(
			anyone(weightExact,
				"fecha de efecto",
				"cambiar la fecha de la poliza",
			),
			anyone(weightParaphrase,
				"que la poliza empiece el",
			),
		),
	},
	{
		family: FamilySpecific,
		topic:  TopicCardDuplicate,
		patterns: merge(
			anyone(weightExact,
				"duplicado de la tarjeta",
				"duplicado de tarjeta",
				"duplicado de mi tarjeta",
				"copia de la tarjeta",
				"tarjeta sanitaria nueva",
			),
			anyone(weightParaphrase,
				"he perdido la tarjeta",
				"tarjeta nueva",
			),
		),
	},
	{
		family: FamilySpecific,
		topic:  TopicEmailDuplicate,
		patterns: anyone(weightExact,
			"duplicado por email",
			"duplicado por correo electronico",
			"poliza por email",
			"poliza por correo electronico",
			"copia por email",
		),
	},
	{
		family: FamilySpecific,
		topic:  TopicPostalDuplicate,
		patterns: merge(
			anyone(weightExact,
				"duplicado por correo postal",
				"duplicado por carta",
			),
			anyone(weightParaphrase,
				"a su direccion postal",
				"a mi direccion postal",
				"por correo ordinario",
			),
		),
	},
	{
		family: FamilySpecific,
		topic:  TopicDuplicateNoChannel,
		patterns: anyone(weightParaphrase,
			"duplicado de la poliza",
			"duplicado de mi poliza",
			"copia de la poliza",
			"copia de mi poliza",
		),
	},
	{
		family: FamilySpecific,
		topic:  TopicNewPolicy,
		patterns: merge(
			anyone(weightExact,
				"contratar un seguro",
				"contratar una poliza",
				"presupuesto para un seguro",
				"nueva poliza",
			),
			anyone(weightParaphrase,
				"quiero asegurar",
				"cuanto me costaria un seguro",
			),
		),
	},
	{
		family: FamilySpecific,
		topic:  TopicComplaint,
		patterns: merge(
			anyone(weightExact,
				"poner una queja",
				"una reclamacion",
				"presentar una reclamacion",
				"quiero quejarme",
			),
			anyone(weightParaphrase,
				"estoy muy descontento",
				"estoy muy descontenta",
			),
		),
	},
	{
		family: FamilySpecific,
		topic:  TopicInfoResolved,
		patterns: agent(weightInfo,
			"le confirmo que",
			"queda resuelta su consulta",
			"espero haber resuelto su duda",
			"algo mas en lo que pueda ayudarle",
		),
	},
	{
		family: FamilyRecall,
		patterns: user(weightRecall,
			"ya llame",
			"he llamado antes",
			"vuelvo a llamar",
			"me dijeron que me llamarian",
			"sobre mi expediente",
			"llame ayer",
			"llame la semana pasada",
		),
	},
}

// connectors marks explicit multi-topic evidence in caller speech.
var connectors = []string{
	"y tambien",
	"ademas",
	"otra cosa",
	"tambien queria",
	"aprovechando la llamada",
	"aprovecho para",
}

// ramoWords maps folded branch keywords to the taxonomy ramo value.
var ramoWords = map[string]string{
	"coche":     "auto",
	"coches":    "auto",
	"vehiculo":  "auto",
	"auto":      "auto",
	"moto":      "moto",
	"casa":      "hogar",
	"hogar":     "hogar",
	"piso":      "hogar",
	"vivienda":  "hogar",
	"vida":      "vida",
	"salud":     "salud",
	"medico":    "salud",
	"decesos":   "decesos",
	"viaje":     "viaje",
}

func matchesRole(p pattern, role transcript.Role) bool {
	switch p.speaker {
	case userOnly:
		return role == transcript.RoleUser
	case agentOnly:
		return role == transcript.RoleAgent
	default:
		return role != transcript.RoleTool
	}
}
