package handlers

import (
	"math"
	"strconv"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/stalk-bot/internal/i18n"
	"github.com/Proton-105/stalk-bot/pkg/config"
)

// NewPricingHandler lists the premium plans in TL with a rounded USD estimate.
func NewPricingHandler(pricing config.PricingConfig, locales Locales) CallbackHandler {
	return func(c telebot.Context) error {
		_ = c.Respond()
		return c.Send(PriceList(pricing, translator(locales, c)))
	}
}

// NewPaymentHandler answers /odeme with the payment instructions.
func NewPaymentHandler(locales Locales) Handler {
	return func(c telebot.Context) error {
		return c.Send(translator(locales, c).T("payment.request"))
	}
}

// NewPaymentMethodsHandler answers /odemeyontemleri.
func NewPaymentMethodsHandler(pricing config.PricingConfig, locales Locales) Handler {
	return func(c telebot.Context) error {
		t := translator(locales, c)
		return c.Send(t.Tf("payment.methods", strings.Join(pricing.PaymentMethods, ", ")) + "\n\n" + t.T("pricing.receipt"))
	}
}

// PriceList renders the pricing menu text.
func PriceList(pricing config.PricingConfig, t i18n.Translator) string {
	var b strings.Builder
	b.WriteString(t.T("pricing.header"))
	b.WriteString("\n")

	for _, plan := range pricing.Plans {
		b.WriteString(t.Tf("pricing.line", planName(t, plan.Key), formatTL(plan.PriceTL), toUSD(plan.PriceTL, pricing.ExchangeRate)))
		b.WriteString("\n")
	}

	if len(pricing.PaymentMethods) > 0 {
		b.WriteString("\n")
		b.WriteString(t.Tf("pricing.methods", strings.Join(pricing.PaymentMethods, ", ")))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(t.T("pricing.receipt"))

	return b.String()
}

func planName(t i18n.Translator, key string) string {
	name := t.T("pricing.plan." + key)
	if name == "pricing.plan."+key {
		return key
	}
	return name
}

func formatTL(price float64) string {
	return strconv.FormatFloat(price, 'f', -1, 64)
}

func toUSD(price, rate float64) int {
	if rate <= 0 {
		return 0
	}
	return int(math.Round(price / rate))
}
