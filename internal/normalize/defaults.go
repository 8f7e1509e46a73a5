package normalize

// DefaultCorrections is the built-in correction list used when the
// configuration does not provide one. It holds the mode-of-address fix for
// residents and the hiragana-centred forms of emergency vocabulary that
// trainees are expected to use on the floor.
func DefaultCorrections() []Correction {
	cs := []Correction{
		{
			Script:       Rule{From: "おばあちゃん", To: "さとうさん"},
			Romanization: Rule{From: "obaachan", To: "satou-san"},
			Translation:  Rule{From: "Nenek", To: "Bu Sato"},
		},
		{
			Script:       Rule{From: "おじいちゃん", To: "たなかさん"},
			Romanization: Rule{From: "ojiichan", To: "tanaka-san"},
			Translation:  Rule{From: "Kakek", To: "Pak Tanaka"},
		},
	}
	for _, m := range medicalTerms {
		cs = append(cs, Correction{Script: Rule{From: m[0], To: m[1]}})
	}
	return cs
}

// medicalTerms rewrites kanji and mistaken readings of emergency terms into
// the spoken hiragana form.
var medicalTerms = [][2]string{
	{"低血糖", "ていけっとう"},
	{"ひくけっとう", "ていけっとう"},
	{"けっとう が ひくい", "ていけっとう の うたがい"},
	{"意識変容", "いしき の へんか"},
	{"意識変化", "いしき の へんか"},
	{"いしき へんよう", "いしき の へんか"},
	{"嘔吐", "おうと"},
	{"胸痛", "むね の いたみ"},
	{"きょうつう", "むね の いたみ"},
	{"発熱", "ねつ が ある"},
	{"はつねつ", "ねつ が ある"},
	{"SpO2", "えすぴーおーつー"},
	{"SPO2", "えすぴーおーつー"},
	{"spo2", "えすぴーおーつー"},
	{"すぽつー", "えすぴーおーつー"},
	{"呼吸苦", "いきが くるしい"},
	{"息苦しさ", "いきが くるしい"},
	{"いきぐるしさ", "いきが くるしい"},
	{"こうとう（ぶん）", "こうとうぶん"},
	{"くちとう（ぶん）", "こうとうぶん"},
}
