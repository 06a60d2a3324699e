package telegram

import (
	"fmt"
	"log"
	"strings"

	"storepay/internal"
	"storepay/models"
	"storepay/utility"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
)

// TgBot implements NotificationHandler
type TgBot struct {
	api           *tgbotapi.BotAPI
	database      internal.Database
	subscriptions map[int]models.UserSubscription
	event         chan MessageContent
	send          chan MessageContent
}

type MessageContent struct {
	ChatID int64
	Text   string
}

func NewBot(apiKey string) (*TgBot, error) {
	tgBot := &TgBot{
		subscriptions: make(map[int]models.UserSubscription),
		event:         make(chan MessageContent, 100),
		send:          make(chan MessageContent, 100),
	}
	api, err := tgbotapi.NewBotAPI(apiKey)
	if err != nil {
		return nil, err
	}
	tgBot.api = api
	return tgBot, nil
}

// SetDatabase attach database service
func (b *TgBot) SetDatabase(database internal.Database) {
	b.database = database
}

func (b *TgBot) Start() {
	b.subscriptions = make(map[int]models.UserSubscription)
	if b.database != nil {
		subscriptions, err := b.database.GetSubscriptions()
		if err != nil {
			log.Printf("bot: error getting subscriptions: %v", err)
		} else {
			for _, subscription := range subscriptions {
				b.subscriptions[subscription.UserID] = subscription
			}
		}
	}
	go b.sendPump()
	go b.eventPump()
	go b.updatesPump()
}

// Start listening for updates
func (b *TgBot) updatesPump() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates, err := b.api.GetUpdatesChan(u)
	if err != nil {
		log.Printf("bot: error getting updates: %v", err)
		return
	}
	for update := range updates {
		if update.Message == nil {
			continue
		}
		if !update.Message.IsCommand() {
			continue
		}
		switch update.Message.Command() {
		case "start":
			subscription := models.UserSubscription{
				UserID:           update.Message.From.ID,
				User:             update.Message.From.UserName,
				SubscriptionType: "orders",
			}
			b.subscriptions[update.Message.From.ID] = subscription
			msg := fmt.Sprintf("Hello *%v*, you are now subscribed to order updates", update.Message.From.UserName)
			if b.database != nil {
				if err := b.database.AddSubscription(&subscription); err != nil {
					log.Printf("bot: error adding subscription: %v", err)
					msg = fmt.Sprintf("Error adding subscription:\n `%v`", err)
				}
			}
			b.send <- MessageContent{ChatID: update.Message.Chat.ID, Text: msg}
		case "stop":
			delete(b.subscriptions, update.Message.From.ID)
			if b.database != nil {
				err := b.database.DeleteSubscription(&models.UserSubscription{UserID: update.Message.From.ID})
				if err != nil {
					log.Printf("bot: error deleting subscription: %v", err)
				}
			}
			b.send <- MessageContent{ChatID: update.Message.Chat.ID, Text: "Your subscription has been removed"}
		case "pending":
			msg := b.composePendingMessage()
			b.send <- MessageContent{ChatID: update.Message.Chat.ID, Text: msg}
		}
	}
}

// eventPump sending events to all subscribers
func (b *TgBot) eventPump() {
	for {
		if event, ok := <-b.event; ok {
			for _, subscription := range b.subscriptions {
				b.sendMessage(int64(subscription.UserID), event.Text)
			}
		}
	}
}

// sendPump sending messages to users
func (b *TgBot) sendPump() {
	for {
		if event, ok := <-b.send; ok {
			b.sendMessage(event.ChatID, event.Text)
		}
	}
}

// sendMessage common routine to send a message via bot API
func (b *TgBot) sendMessage(id int64, text string) {
	msg := tgbotapi.NewMessage(id, text)
	msg.ParseMode = "MarkdownV2"
	_, err := b.api.Send(msg)
	if err != nil {
		// maybe error was while parsing, so we can send a message about this error
		msg = tgbotapi.NewMessage(id, fmt.Sprintf("Error: %v", err))
		_, err = b.api.Send(msg)
		if err != nil {
			log.Printf("bot: error sending message: %v", err)
		}
	}
}

func (b *TgBot) OnOrderSettled(event *internal.SettledOrder) {
	msg := fmt.Sprintf("*Order settled*: `%v`\n", sanitize(event.OrderId))
	msg += fmt.Sprintf("Customer: %v\n", sanitize(event.CustomerName))
	if event.PhoneNumber != "" {
		msg += fmt.Sprintf("Phone: %v\n", sanitize(event.PhoneNumber))
	}
	if event.Address != "" {
		msg += fmt.Sprintf("Address: %v\n", sanitize(event.Address))
	}
	for _, item := range event.Items {
		msg += fmt.Sprintf("%v x%v at %v\n", sanitize(item.ProductCode), item.Quantity, sanitize(utility.PriceString(item.Price)))
	}
	msg += fmt.Sprintf("Total: %v %v\n", sanitize(utility.AmountString(event.TotalAmount)), event.Currency)
	b.event <- MessageContent{Text: msg}
}

func (b *TgBot) OnPaymentFailed(event *internal.SettledOrder) {
	msg := fmt.Sprintf("*Payment expired*: `%v`\n", sanitize(event.OrderId))
	msg += fmt.Sprintf("Amount: %v %v\n", sanitize(utility.AmountString(event.TotalAmount)), event.Currency)
	b.event <- MessageContent{Text: msg}
}

// compose pending payments overview
func (b *TgBot) composePendingMessage() string {
	msg := "Pending payments:\n"
	msg += "\n"
	if b.database != nil {
		pending, err := b.database.GetPendingPayments()
		if err != nil {
			log.Printf("bot: error getting pending payments: %v", err)
			msg += fmt.Sprintf("Error getting pending payments:\n `%v`", err)
		} else {
			for _, transaction := range pending {
				msg += fmt.Sprintf("*%v*: %v %v\n", sanitize(transaction.OrderId),
					sanitize(utility.AmountString(transaction.Amount)), transaction.Currency)
			}
		}
	}
	msg += fmt.Sprintf("Active subscriptions: %v", len(b.subscriptions))
	return msg
}

func sanitize(input string) string {
	// Define a list of reserved characters that need to be escaped
	reservedChars := "\\`*_{}[]()#+-.!|"

	sanitized := ""
	for _, char := range input {
		if strings.ContainsRune(reservedChars, char) {
			sanitized += "\\" + string(char)
		} else {
			sanitized += string(char)
		}
	}
	return sanitized
}
