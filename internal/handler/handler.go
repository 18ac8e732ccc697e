package handler

import (
	"strconv"

	"assetledger/internal/service"
	"assetledger/pkg/logger"
	"assetledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	svc    *service.Services
	logger zerolog.Logger
}

// NewHandler 创建处理器实例
func NewHandler(svc *service.Services) *Handler {
	return &Handler{
		svc:    svc,
		logger: logger.Component("Handler"),
	}
}

// fail 按业务错误分类返回响应码，非业务错误统一按服务器错误处理
func (h *Handler) fail(c *gin.Context, err error) {
	switch service.KindOf(err) {
	case service.KindValidation:
		response.ParamError(c, err.Error())
	case service.KindInsufficientAsset:
		response.BusinessError(c, response.CodeInsufficientAsset, err.Error())
	case service.KindNotFound:
		response.NotFound(c, err.Error())
	case service.KindConflict:
		response.Conflict(c, err.Error())
	default:
		h.logger.Error().Err(err).
			Str("request_id", c.GetString(response.RequestIDKey)).
			Str("path", c.FullPath()).
			Msg("请求处理失败")
		response.ServerError(c, "服务器内部错误")
	}
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return false
	}
	return true
}

func paramInt64(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, name+" 参数错误")
		return 0, false
	}
	return id, true
}

func queryInt64(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, name+" 参数错误")
		return 0, false
	}
	return id, true
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, pageSize
}

// ============================================================
// 顾客
// ============================================================

// CreateCustomer 新建顾客
// POST /api/v1/customers
func (h *Handler) CreateCustomer(c *gin.Context) {
	var req service.CreateCustomerRequest
	if !bindJSON(c, &req) {
		return
	}
	customer, err := h.svc.Customer.Create(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, customer)
}

// GetCustomer 查询顾客
// GET /api/v1/customers/:id
func (h *Handler) GetCustomer(c *gin.Context) {
	id, ok := paramInt64(c, "id")
	if !ok {
		return
	}
	customer, err := h.svc.Customer.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, customer)
}

// LookupCustomer 按编号或手机号查顾客
// GET /api/v1/customers/lookup?customer_no=xxx 或 ?store_id=1&mobile=xxx
func (h *Handler) LookupCustomer(c *gin.Context) {
	ctx := c.Request.Context()
	if no := c.Query("customer_no"); no != "" {
		customer, err := h.svc.Customer.GetByNo(ctx, no)
		if err != nil {
			h.fail(c, err)
			return
		}
		response.Success(c, customer)
		return
	}

	storeID, ok := queryInt64(c, "store_id")
	if !ok {
		return
	}
	mobile := c.Query("mobile")
	if mobile == "" {
		response.ParamError(c, "mobile 参数错误")
		return
	}
	customer, err := h.svc.Customer.GetByMobile(ctx, storeID, mobile)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, customer)
}

// GetCustomerAssets 顾客资产汇总
// GET /api/v1/customers/:id/assets
func (h *Handler) GetCustomerAssets(c *gin.Context) {
	id, ok := paramInt64(c, "id")
	if !ok {
		return
	}
	summary, err := h.svc.Customer.Assets(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, summary)
}

// ============================================================
// 钱包
// ============================================================

// Recharge 充值
// POST /api/v1/wallet/recharge
func (h *Handler) Recharge(c *gin.Context) {
	var req service.RechargeRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.svc.Wallet.Recharge(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// Gift 赠送余额
// POST /api/v1/wallet/gift
func (h *Handler) Gift(c *gin.Context) {
	var req service.RechargeRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.svc.Wallet.Gift(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// AdjustWallet 后台调整余额
// POST /api/v1/wallet/adjust
func (h *Handler) AdjustWallet(c *gin.Context) {
	var req service.AdjustWalletRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.svc.Wallet.Adjust(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// GetBalance 查询余额
// GET /api/v1/wallet/balance?customer_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	customerID, ok := queryInt64(c, "customer_id")
	if !ok {
		return
	}
	summary, err := h.svc.Wallet.Balance(c.Request.Context(), customerID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, summary)
}

// ListWalletLogs 钱包流水
// GET /api/v1/wallet/logs?customer_id=xxx&page=1&page_size=20
func (h *Handler) ListWalletLogs(c *gin.Context) {
	customerID, ok := queryInt64(c, "customer_id")
	if !ok {
		return
	}
	page, pageSize := pageParams(c)
	logs, total, err := h.svc.Wallet.Logs(c.Request.Context(), customerID, page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"list": logs, "total": total, "page": page})
}

// ============================================================
// 券
// ============================================================

// IssueCoupon 发券
// POST /api/v1/coupons/issue
func (h *Handler) IssueCoupon(c *gin.Context) {
	var req service.IssueCouponRequest
	if !bindJSON(c, &req) {
		return
	}
	issued, err := h.svc.Coupon.Issue(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, issued)
}

// IssueCouponBatch 群发券
// POST /api/v1/coupons/issue-batch
func (h *Handler) IssueCouponBatch(c *gin.Context) {
	var req service.IssueBatchRequest
	if !bindJSON(c, &req) {
		return
	}
	issued, err := h.svc.Coupon.IssueBatch(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"list": issued, "total": len(issued)})
}

// AdjustCoupon 后台调整券
// POST /api/v1/coupons/adjust
func (h *Handler) AdjustCoupon(c *gin.Context) {
	var req service.AdjustCouponRequest
	if !bindJSON(c, &req) {
		return
	}
	coupon, err := h.svc.Coupon.Adjust(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, coupon)
}

// CancelCoupon 作废券
// POST /api/v1/coupons/cancel
func (h *Handler) CancelCoupon(c *gin.Context) {
	var req service.CancelCouponRequest
	if !bindJSON(c, &req) {
		return
	}
	coupon, err := h.svc.Coupon.Cancel(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, coupon)
}

// GetCoupon 查询券
// GET /api/v1/coupons/:id
func (h *Handler) GetCoupon(c *gin.Context) {
	id, ok := paramInt64(c, "id")
	if !ok {
		return
	}
	coupon, err := h.svc.Coupon.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, coupon)
}

// ListCoupons 顾客的券
// GET /api/v1/coupons?customer_id=xxx&status=active
func (h *Handler) ListCoupons(c *gin.Context) {
	customerID, ok := queryInt64(c, "customer_id")
	if !ok {
		return
	}
	coupons, err := h.svc.Coupon.ListByCustomer(c.Request.Context(), customerID, c.Query("status"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"list": coupons, "total": len(coupons)})
}

// ListCouponLogs 券流水
// GET /api/v1/coupons/:id/logs
func (h *Handler) ListCouponLogs(c *gin.Context) {
	id, ok := paramInt64(c, "id")
	if !ok {
		return
	}
	logs, err := h.svc.Coupon.Logs(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"list": logs})
}

// ============================================================
// 会员卡
// ============================================================

// OpenMemberCard 开卡
// POST /api/v1/member-cards/open
func (h *Handler) OpenMemberCard(c *gin.Context) {
	var req service.OpenCardRequest
	if !bindJSON(c, &req) {
		return
	}
	card, err := h.svc.MemberCard.Open(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, card)
}

// AdjustMemberCard 后台调整会员卡
// POST /api/v1/member-cards/adjust
func (h *Handler) AdjustMemberCard(c *gin.Context) {
	var req service.AdjustCardRequest
	if !bindJSON(c, &req) {
		return
	}
	card, err := h.svc.MemberCard.Adjust(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, card)
}

// GetMemberCard 查询会员卡
// GET /api/v1/member-cards/:id
func (h *Handler) GetMemberCard(c *gin.Context) {
	id, ok := paramInt64(c, "id")
	if !ok {
		return
	}
	card, err := h.svc.MemberCard.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, card)
}

// ListMemberCards 顾客的会员卡
// GET /api/v1/member-cards?customer_id=xxx&status=active
func (h *Handler) ListMemberCards(c *gin.Context) {
	customerID, ok := queryInt64(c, "customer_id")
	if !ok {
		return
	}
	cards, err := h.svc.MemberCard.ListByCustomer(c.Request.Context(), customerID, c.Query("status"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"list": cards, "total": len(cards)})
}

// ListMemberCardLogs 会员卡流水
// GET /api/v1/member-cards/:id/logs
func (h *Handler) ListMemberCardLogs(c *gin.Context) {
	id, ok := paramInt64(c, "id")
	if !ok {
		return
	}
	logs, err := h.svc.MemberCard.Logs(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"list": logs})
}

// ============================================================
// 消费结算
// ============================================================

// Settle 消费结算，附属动作失败时在 warnings 中返回
// POST /api/v1/consume/settle
func (h *Handler) Settle(c *gin.Context) {
	var req service.SettleRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.svc.Consume.Settle(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// AmendConsume 修改消费单备注
// POST /api/v1/consume/amend
func (h *Handler) AmendConsume(c *gin.Context) {
	var req service.AmendRecordRequest
	if !bindJSON(c, &req) {
		return
	}
	record, err := h.svc.Consume.AmendRecord(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, record)
}

// RevokeConsume 撤销消费单
// POST /api/v1/consume/revoke
func (h *Handler) RevokeConsume(c *gin.Context) {
	var req service.RevokeRequest
	if !bindJSON(c, &req) {
		return
	}
	record, err := h.svc.Consume.Revoke(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, record)
}

// GetConsume 查询消费单
// GET /api/v1/consume/:consume_no
func (h *Handler) GetConsume(c *gin.Context) {
	record, err := h.svc.Consume.Get(c.Request.Context(), c.Param("consume_no"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, record)
}

// ListConsume 顾客的消费单
// GET /api/v1/consume?customer_id=xxx&page=1&page_size=20
func (h *Handler) ListConsume(c *gin.Context) {
	customerID, ok := queryInt64(c, "customer_id")
	if !ok {
		return
	}
	page, pageSize := pageParams(c)
	records, total, err := h.svc.Consume.List(c.Request.Context(), customerID, page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"list": records, "total": total, "page": page})
}

// ============================================================
// 预约
// ============================================================

// AppointmentStatusChange 预约状态变化回调
// POST /api/v1/appointments/status-change
func (h *Handler) AppointmentStatusChange(c *gin.Context) {
	var req service.AppointmentTransition
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.svc.Appointment.OnStatusChange(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// RollbackAppointment 手工回滚预约扣次
// POST /api/v1/appointments/rollback
func (h *Handler) RollbackAppointment(c *gin.Context) {
	var req service.RollbackRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.svc.Appointment.Rollback(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// AdjustAppointment 修改预约扣次数
// POST /api/v1/appointments/adjust
func (h *Handler) AdjustAppointment(c *gin.Context) {
	var req service.AdjustAppointmentRequest
	if !bindJSON(c, &req) {
		return
	}
	ac, err := h.svc.Appointment.AdjustAppointmentConsume(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, ac)
}

// GetAppointmentConsume 查询预约扣次记录
// GET /api/v1/appointments/:id/consume
func (h *Handler) GetAppointmentConsume(c *gin.Context) {
	id, ok := paramInt64(c, "id")
	if !ok {
		return
	}
	ac, err := h.svc.Appointment.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, ac)
}

// ============================================================
// 转赠 / 审计
// ============================================================

// TransferCoupon 转赠券
// POST /api/v1/transfers/coupon
func (h *Handler) TransferCoupon(c *gin.Context) {
	var req service.TransferRequest
	if !bindJSON(c, &req) {
		return
	}
	transfer, err := h.svc.Transfer.TransferCoupon(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, transfer)
}

// TransferMemberCard 转赠会员卡
// POST /api/v1/transfers/member-card
func (h *Handler) TransferMemberCard(c *gin.Context) {
	var req service.TransferRequest
	if !bindJSON(c, &req) {
		return
	}
	transfer, err := h.svc.Transfer.TransferMemberCard(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, transfer)
}

// ListTransfers 顾客的转赠记录
// GET /api/v1/transfers?customer_id=xxx
func (h *Handler) ListTransfers(c *gin.Context) {
	customerID, ok := queryInt64(c, "customer_id")
	if !ok {
		return
	}
	transfers, err := h.svc.Transfer.ListTransfers(c.Request.Context(), customerID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"list": transfers, "total": len(transfers)})
}

// ListAudit 实体的审计记录
// GET /api/v1/audit?entity_type=consume_record&entity_id=xxx
func (h *Handler) ListAudit(c *gin.Context) {
	entityType, entityID := c.Query("entity_type"), c.Query("entity_id")
	if entityType == "" || entityID == "" {
		response.ParamError(c, "entity_type 和 entity_id 不能为空")
		return
	}
	logs, err := h.svc.Auditor.List(c.Request.Context(), entityType, entityID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"list": logs})
}
