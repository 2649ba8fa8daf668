package intent

import "testing"

func TestClassify_Table(t *testing.T) {
	cases := []struct {
		in   string
		want Intent
	}{
		{"STOP", Stop},
		{"stop", Stop},
		{"  Stop!  ", Stop},
		{"Arrêtez de m'écrire", Stop},
		{"je veux me désabonner", Stop},
		{"Je veux ne plus recevoir de messages", Stop},
		{"Comment ça marche ?", Question},
		{"c'est à quelle heure", Question},
		{"ok?", Question},
		{"Je voudrais décaler mon RDV", Rebook},
		{"can we reschedule?", Rebook},
		{"une autre date svp", Rebook},
		{"asdfghjkl", Unknown},
		{"merci", Unknown},
		{"", Unknown},
		{"   ", Unknown},
	}
	for _, tc := range cases {
		if got := Classify(tc.in); got != tc.want {
			t.Errorf("Classify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestClassify_StopWinsOverQuestion(t *testing.T) {
	if got := Classify("stop, pourquoi vous m'écrivez ?"); got != Stop {
		t.Fatalf("got %q", got)
	}
}

func TestClassify_KeywordIsWholeWord(t *testing.T) {
	// "stopper" and "whatever" contain keywords but are different words
	if got := Classify("stopper"); got != Unknown {
		t.Fatalf("stopper: got %q", got)
	}
	if got := Classify("whatever"); got != Unknown {
		t.Fatalf("whatever: got %q", got)
	}
}

func TestClassifier_CustomRules(t *testing.T) {
	c := New(Rule{Intent: Rebook, Keywords: []string{"later"}})
	if got := c.Classify("maybe LATER"); got != Rebook {
		t.Fatalf("got %q", got)
	}
	if got := c.Classify("stop"); got != Unknown {
		t.Fatalf("custom rules replace defaults, got %q", got)
	}
}

func TestActionFor(t *testing.T) {
	want := map[Intent]Action{
		Stop:     DisableAgent,
		Rebook:   RequestRebook,
		Question: None,
		Unknown:  None,
	}
	for in, a := range want {
		if got := ActionFor(in); got != a {
			t.Errorf("ActionFor(%q) = %q, want %q", in, got, a)
		}
	}
	if !Valid("stop") || Valid("maybe") {
		t.Fatalf("Valid mismatch")
	}
}
