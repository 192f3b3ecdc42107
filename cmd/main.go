package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/leonelquinteros/gotext"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	log "github.com/sirupsen/logrus"

	"nftfloor-telegram-bot/config"
	"nftfloor-telegram-bot/internal/alertstore"
	"nftfloor-telegram-bot/internal/commands"
	"nftfloor-telegram-bot/internal/database"
	"nftfloor-telegram-bot/internal/digest"
	"nftfloor-telegram-bot/internal/dispatch"
	"nftfloor-telegram-bot/internal/market"
	"nftfloor-telegram-bot/internal/scheduler"
	"nftfloor-telegram-bot/internal/telegram"
)

type BotMetrics struct {
	CommandsProcessed   prometheus.Counter
	MessagesHandled     prometheus.Counter
	CyclesRun           prometheus.Counter
	CyclesAborted       prometheus.Counter
	AlertsTriggered     prometheus.Counter
	NotificationsSent   prometheus.Counter
	NotificationsFailed prometheus.Counter
}

var (
	metrics = NewBotMetrics()
)

func init() {
	godotenv.Load()
	config.InitConfig()
	setupLogging()
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nftfloor",
		Subsystem: "telegram_bot",
		Name:      name,
		Help:      help,
	})
}

func NewBotMetrics() *BotMetrics {
	metrics := &BotMetrics{
		CommandsProcessed:   newCounter("commands_processed", "The total number of processed commands"),
		MessagesHandled:     newCounter("messages_handled", "The total number of handled messages"),
		CyclesRun:           newCounter("alert_cycles_run", "The total number of completed alert poll cycles"),
		CyclesAborted:       newCounter("alert_cycles_aborted", "The total number of alert poll cycles aborted by an unexpected failure"),
		AlertsTriggered:     newCounter("alerts_triggered", "The total number of alert threshold crossings detected"),
		NotificationsSent:   newCounter("notifications_sent", "The total number of alert notifications delivered"),
		NotificationsFailed: newCounter("notifications_failed", "The total number of alert notifications that failed to send"),
	}

	prometheus.MustRegister(metrics.CommandsProcessed)
	prometheus.MustRegister(metrics.MessagesHandled)
	prometheus.MustRegister(metrics.CyclesRun)
	prometheus.MustRegister(metrics.CyclesAborted)
	prometheus.MustRegister(metrics.AlertsTriggered)
	prometheus.MustRegister(metrics.NotificationsSent)
	prometheus.MustRegister(metrics.NotificationsFailed)

	return metrics
}

func main() {
	gotext.Configure("locales", strings.ToLower(config.GetString("lang")), "default")

	err := database.InitDB(config.GetString("db_path"))
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.CloseDB()

	LoadMetricsFromDB()

	store := alertstore.NewStore(config.GetInt("max_alerts_per_user"), config.GetString("alert_store_path"))

	marketClient := market.NewClient(market.ClientConfig{
		APIHost:  config.GetString("nftpf_api_host"),
		APIKey:   config.GetString("nftpf_api_key"),
		CacheTTL: time.Duration(config.GetInt("cache_ttl_minutes")) * time.Minute,
	})

	cmds := commands.NewHandler(marketClient)

	bot, err := telegram.NewBot(telegram.BotConfig{
		Token:          config.GetString("telegram_bot_token"),
		Debug:          config.GetBool("debug"),
		UpdatesTimeout: 60,
		MaxAlerts:      config.GetInt("max_alerts_per_user"),
	}, cmds, store, marketClient)

	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}

	dispatcher := dispatch.NewDispatcher(bot, config.GetInt("send_rate_per_second"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alertScheduler := scheduler.NewScheduler(
		store,
		marketClient,
		dispatcher,
		scheduler.Metrics{
			CyclesRun:           metrics.CyclesRun,
			CyclesAborted:       metrics.CyclesAborted,
			AlertsTriggered:     metrics.AlertsTriggered,
			NotificationsSent:   metrics.NotificationsSent,
			NotificationsFailed: metrics.NotificationsFailed,
		},
		time.Duration(config.GetInt("poll_interval_minutes"))*time.Minute,
		time.Duration(config.GetInt("fetch_timeout_seconds"))*time.Second,
	)
	alertScheduler.Start(ctx)

	digest.NewScheduler(cmds, dispatcher).Start(ctx)

	updates, err := bot.GetUpdatesChannel()
	if err != nil {
		log.Fatalf("Failed to get updates channel: %v", err)
	}

	go handleUpdates(bot, updates)

	go func() {
		for {
			time.Sleep(5 * time.Minute)
			SaveMetricsToDB()
		}
	}()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		cancel()
		SaveMetricsToDB()
		log.Println("Metrics saved, shutting down...")
		os.Exit(0)
	}()

	if err := launchMetricsAndHealthServer(config.GetInt("metrics_port")); err != nil {
		log.Fatalf("Failed to start metrics and health server: %v", err)
	}
}

func setupLogging() {
	log.SetLevel(log.ErrorLevel)
	if config.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	}
	log.Debug("Starting telegram bot...")
}

func handleUpdates(bot *telegram.Bot, updates tgbotapi.UpdatesChannel) {
	for update := range updates {
		if update.Message == nil || !update.Message.IsCommand() {
			log.Debug("Received non-message or non-command")
			continue
		}

		metrics.MessagesHandled.Inc()

		handleCommand(bot, update)
	}
}

func handleCommand(bot *telegram.Bot, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			stackBuf := make([]byte, 1024)
			stackSize := runtime.Stack(stackBuf, false)
			stackTrace := bytes.TrimRight(stackBuf[:stackSize], "\x00")
			log.Errorf("Recovered from panic: %v\nStack trace: %s", r, stackTrace)
		}
	}()

	text := bot.HandleUpdate(update)
	if text == "" {
		return
	}

	err := bot.SendMessage(telegram.Message{
		ChatID:    update.Message.Chat.ID,
		Text:      text,
		MessageID: update.Message.MessageID,
	})

	if err != nil {
		log.Errorf("Failed to send message: %v", err)
	} else {
		metrics.CommandsProcessed.Inc()
	}
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func launchMetricsAndHealthServer(port int) error {
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/health", healthCheckHandler)

	log.Infof("Launching metrics and health endpoint on :%d", port)
	return http.ListenAndServe(fmt.Sprintf(":%d", port), http.DefaultServeMux)
}

func LoadMetricsFromDB() {
	for name, counter := range persistedCounters() {
		value, _ := database.GetMetric(name)
		counter.Add(value)
	}
	log.Println("Metrics loaded from database.")
}

func SaveMetricsToDB() {
	for name, counter := range persistedCounters() {
		database.SaveMetric(name, GetMetricValue(counter))
	}
	log.Println("Metrics saved to database.")
}

func persistedCounters() map[string]prometheus.Counter {
	return map[string]prometheus.Counter{
		"commands_processed":   metrics.CommandsProcessed,
		"messages_handled":     metrics.MessagesHandled,
		"alert_cycles_run":     metrics.CyclesRun,
		"alerts_triggered":     metrics.AlertsTriggered,
		"notifications_sent":   metrics.NotificationsSent,
		"notifications_failed": metrics.NotificationsFailed,
	}
}

func GetMetricValue(metric prometheus.Collector) float64 {
	var metricValue float64
	metricChan := make(chan prometheus.Metric, 1)
	metric.Collect(metricChan)
	close(metricChan)

	metricProto := &dto.Metric{}
	if err := (<-metricChan).Write(metricProto); err != nil {
		log.Printf("Failed to read metric value: %v", err)
		return 0
	}

	if metricProto.Counter != nil {
		metricValue = metricProto.Counter.GetValue()
	} else if metricProto.Gauge != nil {
		metricValue = metricProto.Gauge.GetValue()
	}
	return metricValue
}
