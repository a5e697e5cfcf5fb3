package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/expertly/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("idgen",
	fx.Provide(NewNode),
)

// NewNode builds the snowflake node for this instance. Every running process
// needs its own SNOWFLAKE_NODE_ID.
func NewNode(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.SnowflakeNode, err)
	}
	return node, nil
}
