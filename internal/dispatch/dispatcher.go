package dispatch

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"Feelan-Chain/internal/conversation"
	xerrors "Feelan-Chain/internal/errors"
	"Feelan-Chain/internal/events"
	"Feelan-Chain/internal/intent"
	"Feelan-Chain/internal/llm"
	"Feelan-Chain/internal/prompt"
	"Feelan-Chain/internal/trade"
	"Feelan-Chain/pkg/logger"
)

// Command 是客户端显式声明的特殊动作，优先于对消息原文的识别。
type Command string

const (
	CommandNone          Command = ""
	CommandMintNFT       Command = "mint-nft"
	CommandCreateProcess Command = "create-process"
)

// 旧版客户端靠消息原文里的暗号触发特殊动作，保留识别作为兜底。
const (
	legacyMintMarker    = "Minting NFT"
	legacyProcessMarker = "New process created!!!"
)

const (
	mintedResponse         = "NFT minted!"
	processCreatedResponse = "Created a new process."
	formatReminder         = "\nPlease in your response answer with the right format structure, therefore a string-like JSON response."
	summaryRequest         = "Make a five words short summary of this conversation fitting in a title."
)

// Resolver 是分类修复循环的端口。
type Resolver interface {
	Resolve(ctx context.Context, transcript []llm.Message) (*intent.Record, error)
}

// TradeProvider 是下游交易协作方的端口。
type TradeProvider interface {
	Quote(ctx context.Context, order intent.SwapOrder, accountAddress string) (string, error)
	MultiQuote(ctx context.Context, orders []intent.SwapOrder, accountAddress string) (string, error)
	TransferERC20(ctx context.Context, order intent.TransferOrder, accountAddress string) (*trade.TransferResult, error)
	Balance(ctx context.Context, accountAddress string) (string, error)
}

// TurnRequest 描述一次入站用户回合。
type TurnRequest struct {
	UserID         string
	AccountAddress string
	AccountName    string
	ConversationID string
	Timestamp      int64
	Message        string
	Command        Command
	Name           string
	IsNFT          bool
	Shelved        bool
	TokenURI       string
	Type           string
}

// Dispatcher 按意图记录决定回合的后续行为：直接回答、取数后二次
// 调用模型、或发出机器可执行消息。所有依赖显式注入。
type Dispatcher struct {
	resolver  Resolver
	llmClient llm.Client
	trade     TradeProvider
	store     conversation.Store
	publisher events.Publisher
	log       *slog.Logger
}

// NewDispatcher 构造调度器。publisher 可以为 nil，表示不发布动作事件。
func NewDispatcher(resolver Resolver, llmClient llm.Client, provider TradeProvider, store conversation.Store, publisher events.Publisher) *Dispatcher {
	return &Dispatcher{
		resolver:  resolver,
		llmClient: llmClient,
		trade:     provider,
		store:     store,
		publisher: publisher,
		log:       logger.Named("dispatch"),
	}
}

// Handle 处理一个用户回合并返回给调用方的响应文本。副作用：把本回合
// 产生的消息追加进会话并持久化；可执行意图还会发布动作事件。
func (d *Dispatcher) Handle(ctx context.Context, req TurnRequest) (string, error) {
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.ConversationID) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "userId and conversationId are required")
	}

	userMessage := llm.Message{Role: llm.RoleFrontendUser, Content: req.Message}

	if resp, handled, err := d.handleCommand(ctx, req, userMessage); handled {
		return resp, err
	}

	doc, err := d.store.Load(ctx, req.UserID)
	if err != nil {
		return "", err
	}
	history := historyOf(doc, req.ConversationID)
	history = append(history, userMessage)

	transcript, err := d.buildTranscript(history, prompt.Compose(prompt.PhaseGeneral))
	if err != nil {
		return "", err
	}
	// 首轮调用前提醒模型固定输出结构。
	transcript[len(transcript)-1].Content += formatReminder

	record, err := d.resolver.Resolve(ctx, transcript)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeClassificationUnresolved {
			// 未决回合只落用户消息，失败显式上抛。
			if persistErr := d.persist(ctx, req, userMessage); persistErr != nil {
				d.log.Error("persist_failed", "user", req.UserID, "error", persistErr.Error())
			}
		}
		return "", err
	}
	d.log.Info("intent_classified", "intent", string(record.Intent), "conversation", req.ConversationID)

	response, assistantMessage, err := d.branch(ctx, req, history, record)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeClassificationUnresolved {
			if persistErr := d.persist(ctx, req, userMessage); persistErr != nil {
				d.log.Error("persist_failed", "user", req.UserID, "error", persistErr.Error())
			}
		}
		return "", err
	}

	if err := d.persist(ctx, req, userMessage, assistantMessage); err != nil {
		return "", err
	}
	return response, nil
}

// handleCommand 处理客户端显式声明的特殊动作，并兼容旧版的消息原文
// 暗号。命中时整个分类管道被旁路，不发生任何模型调用。
func (d *Dispatcher) handleCommand(ctx context.Context, req TurnRequest, userMessage llm.Message) (string, bool, error) {
	command := req.Command
	if command == CommandNone {
		switch {
		case strings.Contains(req.Message, legacyMintMarker):
			command = CommandMintNFT
		case strings.Contains(req.Message, legacyProcessMarker):
			command = CommandCreateProcess
		}
	}

	switch command {
	case CommandMintNFT:
		assistant := llm.Message{Role: llm.RoleFrontendAssistant, Content: mintedResponse}
		if err := d.persist(ctx, req, userMessage, assistant); err != nil {
			return "", true, err
		}
		return mintedResponse, true, nil
	case CommandCreateProcess:
		if err := d.persist(ctx, req, userMessage); err != nil {
			return "", true, err
		}
		return processCreatedResponse, true, nil
	default:
		return "", false, nil
	}
}

// branch 按意图分流，返回给调用方的响应与应落进会话的助手消息。
func (d *Dispatcher) branch(ctx context.Context, req TurnRequest, history []llm.Message, record *intent.Record) (string, llm.Message, error) {
	assistant := func(content string) llm.Message {
		return llm.Message{Role: llm.RoleFrontendAssistant, Content: content}
	}

	switch record.Intent {
	case intent.UserAssistance:
		return record.Response, assistant(record.Response), nil

	case intent.SwapIntent:
		// 收集阶段的文本追问不触发报价，直接转交用户。
		if record.Swap == nil {
			return record.Response, assistant(record.Response), nil
		}
		quote := d.fetchQuote(ctx, *record.Swap, req.AccountAddress)
		text, err := d.secondPass(ctx, history,
			prompt.Compose(prompt.PhaseSwapQuote, prompt.AccountTitle(req.AccountName), quote))
		if err != nil {
			return "", llm.Message{}, err
		}
		return text, assistant(text), nil

	case intent.MultiswapIntent:
		if record.Swaps == nil {
			return record.Response, assistant(record.Response), nil
		}
		quote := d.fetchMultiQuote(ctx, record.Swaps, req.AccountAddress)
		text, err := d.secondPass(ctx, history,
			prompt.Compose(prompt.PhaseSwapQuote, prompt.AccountTitle(req.AccountName), quote))
		if err != nil {
			return "", llm.Message{}, err
		}
		return text, assistant(text), nil

	case intent.SwapFunction, intent.MultiswapFunction:
		actionable, err := record.Actionable()
		if err != nil {
			return "", llm.Message{}, xerrors.Wrap(xerrors.CodeUnknown, err, "")
		}
		d.publish(ctx, req.UserID, record.Intent, actionable)
		return actionable, assistant(actionable), nil

	case intent.AccountBalance:
		balance := d.fetchBalance(ctx, req.AccountAddress)
		text, err := d.secondPass(ctx, history,
			prompt.Compose(prompt.PhaseBalanceReport, prompt.AccountTitle(req.AccountName), balance))
		if err != nil {
			return "", llm.Message{}, err
		}
		return text, assistant(text), nil

	case intent.TransferToken:
		balance := d.fetchBalance(ctx, req.AccountAddress)
		text, err := d.secondPass(ctx, history,
			prompt.Compose(prompt.PhaseTransferQuote, prompt.AccountTitle(req.AccountName), balance))
		if err != nil {
			return "", llm.Message{}, err
		}
		return text, assistant(text), nil

	case intent.TransferFunction:
		return d.handleTransfer(ctx, req, history, record)

	case intent.CreateProcess:
		actionable, err := record.Actionable()
		if err != nil {
			return "", llm.Message{}, xerrors.Wrap(xerrors.CodeUnknown, err, "")
		}
		d.publish(ctx, req.UserID, record.Intent, actionable)
		// 人类可读转写里只留占位说明，完整 payload 在响应里。
		return actionable, assistant("creating"), nil

	case intent.QueryProcess:
		actionable, err := record.Actionable()
		if err != nil {
			return "", llm.Message{}, xerrors.Wrap(xerrors.CodeUnknown, err, "")
		}
		d.publish(ctx, req.UserID, record.Intent, actionable)
		return actionable, assistant("Querying the process."), nil

	case intent.RunProcess:
		transcript, err := d.buildTranscript(history, prompt.Compose(prompt.PhaseProcessRun))
		if err != nil {
			return "", llm.Message{}, err
		}
		runRecord, err := d.resolver.Resolve(ctx, transcript)
		if err != nil {
			return "", llm.Message{}, err
		}
		actionable, err := runRecord.Actionable()
		if err != nil {
			return "", llm.Message{}, xerrors.Wrap(xerrors.CodeUnknown, err, "")
		}
		d.publish(ctx, req.UserID, runRecord.Intent, actionable)
		return actionable, assistant("running code"), nil

	default:
		return "", llm.Message{}, xerrors.New(xerrors.CodeUnknown,
			fmt.Sprintf("未处理的意图: %s", record.Intent))
	}
}

// handleTransfer 执行转账。失败不终止回合：把失败原因和最新余额折进
// 转账阶段提示词再走一轮分类，以恢复响应收尾。
func (d *Dispatcher) handleTransfer(ctx context.Context, req TurnRequest, history []llm.Message, record *intent.Record) (string, llm.Message, error) {
	assistant := func(content string) llm.Message {
		return llm.Message{Role: llm.RoleFrontendAssistant, Content: content}
	}

	result, err := d.trade.TransferERC20(ctx, *record.Transfer, req.AccountAddress)
	if err != nil {
		result = &trade.TransferResult{Success: false, Error: err.Error()}
	}
	if result.Success {
		confirmation := `{"intent": "transfer_function", "response": "Transfered"}`
		d.publish(ctx, req.UserID, record.Intent, confirmation)
		return confirmation, assistant(confirmation), nil
	}

	d.log.Warn("transfer_failed", "user", req.UserID, "reason", result.Error)
	errorText := fmt.Sprintf("Error occured during transfer: %s", result.Error)
	balance := d.fetchBalance(ctx, req.AccountAddress)
	text, err := d.secondPass(ctx, history,
		prompt.Compose(prompt.PhaseTransferQuote, prompt.AccountTitle(req.AccountName), balance, errorText))
	if err != nil {
		return "", llm.Message{}, err
	}
	return text, assistant(text), nil
}

// secondPass 以会话历史加阶段指令派生新的转写并再次运行修复循环，
// 返回其文本响应。
func (d *Dispatcher) secondPass(ctx context.Context, history []llm.Message, phasePrompt llm.Message) (string, error) {
	transcript, err := d.buildTranscript(history, llm.Message{})
	if err != nil {
		return "", err
	}
	transcript = append(transcript, phasePrompt)

	record, err := d.resolver.Resolve(ctx, transcript)
	if err != nil {
		return "", err
	}
	return record.Text(), nil
}

// buildTranscript 把前端角色的会话历史映射为模型角色，并按需前置
// 系统指令。空的 system 参数表示不前置。
func (d *Dispatcher) buildTranscript(history []llm.Message, system llm.Message) ([]llm.Message, error) {
	normalized, err := llm.NormalizeRoles(history)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "")
	}
	if system.Content == "" {
		return normalized, nil
	}
	transcript := make([]llm.Message, 0, len(normalized)+1)
	transcript = append(transcript, system)
	transcript = append(transcript, normalized...)
	return transcript, nil
}

// fetchQuote 获取单笔报价。协作方的失败折算成错误文本注入提示词，
// 交由模型向用户解释。
func (d *Dispatcher) fetchQuote(ctx context.Context, order intent.SwapOrder, accountAddress string) string {
	quote, err := d.trade.Quote(ctx, order, accountAddress)
	if err != nil {
		d.log.Warn("quote_failed", "error", err.Error())
		return fmt.Sprintf("An error occurred: %v", err)
	}
	return quote
}

// fetchMultiQuote 获取批量报价。协作方报错时用当前余额报告兜底，
// 不追加额外的分类重试。
func (d *Dispatcher) fetchMultiQuote(ctx context.Context, orders []intent.SwapOrder, accountAddress string) string {
	quote, err := d.trade.MultiQuote(ctx, orders, accountAddress)
	if err == nil {
		return quote
	}
	if provErr, ok := asProviderError(err); ok {
		d.log.Warn("multiquote_failed", "status", provErr.Status)
		return fmt.Sprintf("%s. Consider the user account balance is:\n %s",
			provErr.Body, d.fetchBalance(ctx, accountAddress))
	}
	d.log.Warn("multiquote_failed", "error", err.Error())
	return fmt.Sprintf("An error occurred: %v", err)
}

func (d *Dispatcher) fetchBalance(ctx context.Context, accountAddress string) string {
	balance, err := d.trade.Balance(ctx, accountAddress)
	if err != nil {
		d.log.Warn("balance_failed", "error", err.Error())
		return fmt.Sprintf("An error occurred: %v", err)
	}
	return balance
}

// publish 发布动作事件。发布失败只记日志，不影响回合结果。
func (d *Dispatcher) publish(ctx context.Context, userID string, it intent.Intent, payload string) {
	if d.publisher == nil {
		return
	}
	action := events.NewAction(userID, string(it), payload)
	if err := d.publisher.Publish(ctx, action); err != nil {
		d.log.Error("action_publish_failed", "intent", string(it), "error", err.Error())
	}
}

// persist 把本回合的消息连同会话元数据写回用户文档。
func (d *Dispatcher) persist(ctx context.Context, req TurnRequest, messages ...llm.Message) error {
	conv := conversation.Conversation{
		ID:        req.ConversationID,
		UserID:    req.UserID,
		Timestamp: req.Timestamp,
		Name:      req.Name,
		IsNFT:     req.IsNFT,
		Shelved:   req.Shelved,
		TokenURI:  req.TokenURI,
		Type:      req.Type,
	}
	_, err := conversation.Apply(ctx, d.store, req.UserID, func(doc *conversation.UserDocument) error {
		doc.Upsert(conv, messages...)
		return nil
	})
	return err
}

// historyOf 取出目标会话的既有消息副本。
func historyOf(doc *conversation.UserDocument, conversationID string) []llm.Message {
	if conv := doc.Find(conversationID); conv != nil {
		return append([]llm.Message(nil), conv.Messages...)
	}
	return nil
}

func asProviderError(err error) (*trade.ProviderError, bool) {
	var provErr *trade.ProviderError
	if stdErrors.As(err, &provErr) {
		return provErr, true
	}
	return nil, false
}
