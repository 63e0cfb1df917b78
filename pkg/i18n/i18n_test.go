package i18n

import (
	"reflect"
	"testing"
)

func TestCatalogsComplete(t *testing.T) {
	for lang, m := range map[Language]*Messages{LangEN: &messagesEN, LangZH: &messagesZH} {
		v := reflect.ValueOf(m).Elem()
		for i := 0; i < v.NumField(); i++ {
			if v.Field(i).String() == "" {
				t.Errorf("%s: %s is empty", lang, v.Type().Field(i).Name)
			}
		}
	}
}

func TestSetLanguage(t *testing.T) {
	defer SetLanguage(LangEN)

	SetLanguage(LangZH)
	if GetLanguage() != LangZH || M().ShuttingDown != messagesZH.ShuttingDown {
		t.Error("language not switched")
	}
	if Get("ShuttingDown") != messagesZH.ShuttingDown {
		t.Error("Get did not resolve current language")
	}
	if Get("NoSuchKey") != "NoSuchKey" {
		t.Error("unknown keys should echo back")
	}
	SetLanguage("fr")
	if M() != &messagesEN {
		t.Error("unknown language should fall back to English")
	}
}
