package kafka

import (
	"strings"
	"time"

	"github.com/IBM/sarama"
)

// newSaramaConfig 生产、消费、管理共用的基础配置
func newSaramaConfig(clientID string) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	sc.ClientID = strings.TrimSpace(clientID)
	if sc.ClientID == "" {
		sc.ClientID = "leadpilot"
	}
	sc.Net.DialTimeout = 10 * time.Second
	return sc
}

func cleanBrokers(brokers []string) []string {
	out := make([]string, 0, len(brokers))
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
