// Команда dlq-reprocess перечитывает enrolcart.dlq и возвращает письма в исходные
// topic'и: подтверждения оплаты в enrolcart.payment.events, события корзин в
// enrolcart.cart.events. По умолчанию работает в режиме dry-run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/enrolcart/internal/messaging/kafka"
)

const (
	defaultLimit       = 100
	defaultIdleTimeout = 2 * time.Second
)

type options struct {
	brokers     []string
	dlqTopic    string
	cartTopic   string
	limit       int
	execute     bool
	idleTimeout time.Duration
}

// offsets и partitions — то, что нужно от sarama.Client.
type offsets interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, at int64) (int64, error)
	Close() error
}

type partitionReader interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionOpener func(topic string, partition int32, offset int64) (partitionReader, error)

type publisher interface {
	Publish(topic, key string, value []byte, headers map[string]string) error
}

type replayer struct {
	opts    options
	offsets offsets
	open    partitionOpener
	out     publisher
	now     func() time.Time
	logger  *log.Entry
}

type replayStats struct {
	scanned  int
	replayed int
	skipped  int
}

var connect = func(opts options) (*replayer, func(), error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(opts.brokers, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}

	var producer *kafka.Producer
	if opts.execute {
		producer, err = kafka.NewProducer(opts.brokers)
		if err != nil {
			_ = consumer.Close()
			_ = client.Close()
			return nil, nil, err
		}
	}

	r := &replayer{
		opts:    opts,
		offsets: client,
		open: func(topic string, partition int32, offset int64) (partitionReader, error) {
			return consumer.ConsumePartition(topic, partition, offset)
		},
		now:    time.Now,
		logger: log.WithField("component", "dlq-reprocess"),
	}
	if producer != nil {
		r.out = producer
	}

	closeAll := func() {
		if producer != nil {
			_ = producer.Close()
		}
		_ = consumer.Close()
		_ = client.Close()
	}
	return r, closeAll, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	opts, err := parseOptions(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		log.WithError(err).Fatal("invalid options")
	}

	r, closeAll, err := connect(opts)
	if err != nil {
		log.WithError(err).Fatal("kafka is unavailable")
	}
	defer closeAll()

	if _, err := r.run(context.Background()); err != nil {
		log.WithError(err).Error("dlq replay failed")
		closeAll()
		os.Exit(1)
	}
}

func parseOptions(fs *flag.FlagSet, args []string, getenv func(string) string) (options, error) {
	var (
		opts    options
		brokers string
	)
	fs.StringVar(&brokers, "brokers", "", "comma-separated Kafka brokers (default: $KAFKA_BROKERS)")
	fs.StringVar(&opts.dlqTopic, "dlq-topic", kafka.TopicDeadLetterQueue, "topic to read dead letters from")
	fs.StringVar(&opts.cartTopic, "cart-topic", kafka.TopicCartEvents, "topic for restored cart events")
	fs.IntVar(&opts.limit, "limit", defaultLimit, "maximum number of dead letters to scan")
	fs.BoolVar(&opts.execute, "execute", false, "publish restored messages instead of printing them")
	fs.DurationVar(&opts.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this idle period")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers = getenv("KAFKA_BROKERS")
	}
	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			opts.brokers = append(opts.brokers, broker)
		}
	}

	switch {
	case len(opts.brokers) == 0:
		return options{}, errors.New("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	case strings.TrimSpace(opts.dlqTopic) == "" || strings.TrimSpace(opts.cartTopic) == "":
		return options{}, errors.New("dlq-topic and cart-topic must not be empty")
	case opts.limit <= 0:
		return options{}, errors.New("limit must be > 0")
	case opts.idleTimeout <= 0:
		return options{}, errors.New("idle-timeout must be > 0")
	}
	return opts, nil
}

func (r *replayer) run(ctx context.Context) (replayStats, error) {
	var total replayStats
	if r.opts.execute && r.out == nil {
		return total, errors.New("publisher is required in execute mode")
	}

	partitions, err := r.offsets.Partitions(r.opts.dlqTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.opts.dlqTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if total.scanned >= r.opts.limit {
			break
		}
		stats, err := r.replayPartition(ctx, partition, r.opts.limit-total.scanned)
		total.scanned += stats.scanned
		total.replayed += stats.replayed
		total.skipped += stats.skipped
		if err != nil {
			return total, err
		}
	}

	r.logger.WithFields(log.Fields{
		"execute":  r.opts.execute,
		"scanned":  total.scanned,
		"replayed": total.replayed,
		"skipped":  total.skipped,
	}).Info("dlq replay finished")
	return total, nil
}

func (r *replayer) replayPartition(ctx context.Context, partition int32, limit int) (replayStats, error) {
	var stats replayStats

	oldest, err := r.offsets.GetOffset(r.opts.dlqTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	newest, err := r.offsets.GetOffset(r.opts.dlqTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	reader, err := r.open(r.opts.dlqTopic, partition, oldest)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = reader.Close() }()

	for stats.scanned < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case consumerErr := <-reader.Errors():
			if consumerErr != nil {
				return stats, fmt.Errorf("partition %d: %w", partition, consumerErr)
			}
		case <-time.After(r.opts.idleTimeout):
			return stats, nil
		case msg, ok := <-reader.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			stats.scanned++

			logger := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})
			replay, ok, err := kafka.DecodeDeadLetter(msg.Value, r.opts.cartTopic, r.now())
			if err != nil || !ok {
				stats.skipped++
				logger.WithError(err).Warn("dead letter skipped")
			} else if r.opts.execute {
				if err := r.out.Publish(replay.Topic, replay.Key, replay.Value, replay.Headers); err != nil {
					return stats, fmt.Errorf("replay offset %d: %w", msg.Offset, err)
				}
				stats.replayed++
			} else {
				stats.replayed++
				logger.WithFields(log.Fields{"target_topic": replay.Topic, "key": replay.Key}).Info("would replay dead letter")
			}

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}
	return stats, nil
}
