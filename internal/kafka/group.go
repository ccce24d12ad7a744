package kafka

import (
	"os"
	"strings"

	"github.com/google/uuid"

	"dm-go/internal/config"
)

// InstanceGroupID 返回本实例的投递消费者组: <ConsumerGroup>-<实例 ID>。
// 实例 ID 依次取 InstanceID 配置、主机名，都拿不到时才退回随机 UUID。
// 同一实例重启后复用原来的组。
func InstanceGroupID(cfg config.KafkaConfig) string {
	return instanceGroupID(cfg, os.Hostname)
}

func instanceGroupID(cfg config.KafkaConfig, hostname func() (string, error)) string {
	id := strings.TrimSpace(cfg.InstanceID)
	if id == "" {
		if h, err := hostname(); err == nil {
			id = strings.TrimSpace(h)
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	return cfg.ConsumerGroup + "-" + id
}
