package dialogue

import "strings"

// Prompts are the sentences spoken during a guided conversation.
type Prompts struct {
	GreetArriving string `yaml:"greet_arriving"`
	GreetLeaving  string `yaml:"greet_leaving"`
	AskColor      string `yaml:"ask_color"`
	AskBrightness string `yaml:"ask_brightness"`
	// AskSecondary may contain one %s, replaced by the secondary appliance name.
	AskSecondary  string `yaml:"ask_secondary"`
	CloseArriving string `yaml:"close_arriving"`
	CloseLeaving  string `yaml:"close_leaving"`
	Close         string `yaml:"close"`
	Failure       string `yaml:"failure"`
}

// Script selects which variant of the arrival/departure dialogue runs.
type Script struct {
	// AskSecondary adds a question about the secondary appliance after the
	// light questions.
	AskSecondary bool `yaml:"ask_secondary"`
	// SecondaryAfterDecline still asks about the secondary appliance when the
	// lights were declined. Without it a decline finalizes immediately.
	SecondaryAfterDecline bool `yaml:"secondary_after_decline"`
	// DistinguishDirection picks the closing sentence by arrival/departure.
	DistinguishDirection bool    `yaml:"distinguish_direction"`
	SecondaryName        string  `yaml:"secondary_name"`
	Prompts              Prompts `yaml:"prompts"`
}

func DefaultPrompts() Prompts {
	return Prompts{
		GreetArriving: "welcome home. would you like the lights on",
		GreetLeaving:  "okay. would you like the lights on",
		AskColor:      "okay. what color do you want the light",
		AskBrightness: "okay. how bright do you want the light",
		AskSecondary:  "okay. would you like the %s on",
		CloseArriving: "okay. welcome home",
		CloseLeaving:  "okay. see you later",
		Close:         "okay. all set",
		Failure:       "sorry, I could not reach the lights",
	}
}

func DefaultScript() Script {
	return Script{
		DistinguishDirection: true,
		SecondaryName:        "fan",
		Prompts:              DefaultPrompts(),
	}
}

// WithDefaults fills every empty prompt from DefaultPrompts.
func (s Script) WithDefaults() Script {
	d := DefaultPrompts()
	p := &s.Prompts
	fill := func(v *string, def string) {
		if strings.TrimSpace(*v) == "" {
			*v = def
		}
	}
	fill(&p.GreetArriving, d.GreetArriving)
	fill(&p.GreetLeaving, d.GreetLeaving)
	fill(&p.AskColor, d.AskColor)
	fill(&p.AskBrightness, d.AskBrightness)
	fill(&p.AskSecondary, d.AskSecondary)
	fill(&p.CloseArriving, d.CloseArriving)
	fill(&p.CloseLeaving, d.CloseLeaving)
	fill(&p.Close, d.Close)
	fill(&p.Failure, d.Failure)
	if s.SecondaryName == "" {
		s.SecondaryName = "fan"
	}
	return s
}
