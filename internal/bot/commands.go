package bot

// Command constants for Telegram bot commands.
const (
	CommandStart          = "/start"
	CommandCancel         = "/cancel"
	CommandProfile        = "/profile"
	CommandPayment        = "/odeme"
	CommandPaymentMethods = "/odemeyontemleri"
	CommandAdminLogin     = "/justadmin"
	CommandGrant          = "/grant"
	CommandStats          = "/stats"
)
